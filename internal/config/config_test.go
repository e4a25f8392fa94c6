package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Provider.Type != "anthropic" || cfg.Provider.Model == "" {
		t.Errorf("provider defaults: %+v", cfg.Provider)
	}
	if cfg.Provider.Timeout() != 30*time.Second {
		t.Errorf("timeout: %v", cfg.Provider.Timeout())
	}
	if cfg.Provider.RetryDelay() != time.Second {
		t.Errorf("retry delay: %v", cfg.Provider.RetryDelay())
	}
	if !cfg.Provider.EnablePromptCaching {
		t.Error("caching should default on")
	}
	if cfg.Storage.EventStoreTTL() != 300*time.Second {
		t.Errorf("event ttl: %v", cfg.Storage.EventStoreTTL())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("defaults not applied: %+v", cfg.Server)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aster.toml")
	content := `
[provider]
model = "claude-haiku-4-20250514"
max_retries = 5
retry_initial_delay_seconds = 0.5

[server]
listen_addr = ":9999"
production = true

[storage]
session_db_path = "/tmp/x.db"
event_store_ttl_seconds = 60
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != "claude-haiku-4-20250514" || cfg.Provider.MaxRetries != 5 {
		t.Errorf("provider overrides: %+v", cfg.Provider)
	}
	if cfg.Provider.RetryDelay() != 500*time.Millisecond {
		t.Errorf("retry delay: %v", cfg.Provider.RetryDelay())
	}
	if !cfg.Server.Production || cfg.Server.ListenAddr != ":9999" {
		t.Errorf("server overrides: %+v", cfg.Server)
	}
	if cfg.Storage.EventStoreTTL() != time.Minute {
		t.Errorf("ttl override: %v", cfg.Storage.EventStoreTTL())
	}
	// Unset keys keep their defaults.
	if cfg.Provider.MaxTokens != 8192 {
		t.Errorf("unset key lost default: %d", cfg.Provider.MaxTokens)
	}
}
