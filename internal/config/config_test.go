package config

import (
	"strings"
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.values[account], nil
}

// mockBackend is an in-memory ConfigBackend.
type mockBackend struct {
	data map[string]any
}

func (b mockBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (b mockBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (b mockBackend) SetString(key, val string) error {
	b.data[key] = val
	return nil
}

func (b mockBackend) SetInt(key string, val int) error {
	b.data[key] = val
	return nil
}

func (b mockBackend) Delete(key string) error {
	delete(b.data, key)
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TASKPILOT_LLM_API_KEY", "test-key")

	cfg, err := loadWith(mockBackend{data: map[string]any{}}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.LLM.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.SMTP.Port != 587 {
		t.Errorf("SMTP.Port = %d, want 587", cfg.SMTP.Port)
	}
	if cfg.Assistant.PollInterval != "5m" {
		t.Errorf("Assistant.PollInterval = %q, want %q", cfg.Assistant.PollInterval, "5m")
	}
}

func TestBackendValuesApplied(t *testing.T) {
	clearEnv(t)
	t.Setenv("TASKPILOT_LLM_API_KEY", "test-key")

	b := mockBackend{data: map[string]any{
		"server.port":             5000,
		"llm.base_url":            "http://localhost:11434/v1",
		"llm.model":               "mistral-nemo",
		"smtp.host":               "smtp.example.com",
		"smtp.from":               "assistant@example.com",
		"storage.data_dir":        "/var/lib/taskpilot",
		"assistant.poll_interval": "1m",
	}}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model != "mistral-nemo" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.SMTP.Host != "smtp.example.com" {
		t.Errorf("SMTP.Host = %q", cfg.SMTP.Host)
	}
	if cfg.SMTP.From != "assistant@example.com" {
		t.Errorf("SMTP.From = %q", cfg.SMTP.From)
	}
	if cfg.Storage.DataDir != "/var/lib/taskpilot" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Assistant.PollInterval != "1m" {
		t.Errorf("Assistant.PollInterval = %q", cfg.Assistant.PollInterval)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("TASKPILOT_LLM_API_KEY", "env-key")
	t.Setenv("TASKPILOT_SERVER_PORT", "9999")

	b := mockBackend{data: map[string]any{
		"server.port": 5000,
	}}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "env-key")
	}
}

func TestMissingRequiredField(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(mockBackend{data: map[string]any{}}, mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", err.Error())
	}
}

func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	kc := mockKeychain{values: map[string]string{
		"llm_api_key":   "keychain-secret",
		"smtp_password": "keychain-smtp",
	}}
	cfg, err := loadWith(mockBackend{data: map[string]any{}}, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.APIKey != "keychain-secret" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "keychain-secret")
	}
	if cfg.SMTP.Password != "keychain-smtp" {
		t.Errorf("SMTP.Password = %q, want %q", cfg.SMTP.Password, "keychain-smtp")
	}
}
