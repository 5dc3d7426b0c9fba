package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	SMTP      SMTPConfig
	Storage   StorageConfig
	Directory DirectoryConfig
	Assistant AssistantConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port      int
	AuthToken string
}

type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type StorageConfig struct {
	DataDir   string
	StateFile string
}

type DirectoryConfig struct {
	BaseURL  string
	APIToken string
}

type AssistantConfig struct {
	PollInterval string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Assistant: AssistantConfig{
			PollInterval: "5m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.taskpilot.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/taskpilot/config.json
// and secrets must be provided via environment variables.
//
// Environment variables (TASKPILOT_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for secrets still empty.
	if cfg.LLM.APIKey == "" {
		if key, err := kc.Get("taskpilot", "llm_api_key"); err == nil && key != "" {
			cfg.LLM.APIKey = key
		}
	}
	if cfg.SMTP.Password == "" {
		if pw, err := kc.Get("taskpilot", "smtp_password"); err == nil && pw != "" {
			cfg.SMTP.Password = pw
		}
	}
	if cfg.Directory.APIToken == "" {
		if tok, err := kc.Get("taskpilot", "directory_api_token"); err == nil && tok != "" {
			cfg.Directory.APIToken = tok
		}
	}

	if cfg.LLM.APIKey == "" {
		msg := "missing required config: LLM API key. " +
			"Set it via environment variable TASKPILOT_LLM_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from macOS Keychain via the security CLI.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
