package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TASKPILOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.auth_token", typ: kString, env: "TASKPILOT_SERVER_AUTH_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.AuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AuthToken },
	},
	{
		key: "llm.base_url", typ: kString, env: "TASKPILOT_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "TASKPILOT_LLM_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.model", typ: kString, env: "TASKPILOT_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "smtp.host", typ: kString, env: "TASKPILOT_SMTP_HOST",
		apply:   func(cfg *Config, v any) { cfg.SMTP.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.Host },
	},
	{
		key: "smtp.port", typ: kInt, env: "TASKPILOT_SMTP_PORT",
		apply:   func(cfg *Config, v any) { cfg.SMTP.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.SMTP.Port },
	},
	{
		key: "smtp.username", typ: kString, env: "TASKPILOT_SMTP_USERNAME",
		apply:   func(cfg *Config, v any) { cfg.SMTP.Username = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.Username },
	},
	{
		key: "smtp.password", typ: kString, env: "TASKPILOT_SMTP_PASSWORD",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.SMTP.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.Password },
	},
	{
		key: "smtp.from", typ: kString, env: "TASKPILOT_SMTP_FROM",
		apply:   func(cfg *Config, v any) { cfg.SMTP.From = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.From },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TASKPILOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.state_file", typ: kString, env: "TASKPILOT_STORAGE_STATE_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.StateFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.StateFile },
	},
	{
		key: "directory.base_url", typ: kString, env: "TASKPILOT_DIRECTORY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Directory.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Directory.BaseURL },
	},
	{
		key: "directory.api_token", typ: kString, env: "TASKPILOT_DIRECTORY_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Directory.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Directory.APIToken },
	},
	{
		key: "assistant.poll_interval", typ: kString, env: "TASKPILOT_ASSISTANT_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Assistant.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "TASKPILOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
