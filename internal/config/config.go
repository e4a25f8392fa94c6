// Package config loads the server configuration from a TOML file with
// sensible defaults. The API key is never required in the file; the provider
// falls back to the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full server configuration.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Observer ObserverConfig `toml:"observer"`
}

// ProviderConfig selects and tunes the LLM backend.
type ProviderConfig struct {
	Type                string  `toml:"type"`
	Model               string  `toml:"model"`
	APIKey              string  `toml:"api_key"`
	MaxTokens           int     `toml:"max_tokens"`
	TimeoutSeconds      float64 `toml:"timeout_seconds"`
	EnablePromptCaching bool    `toml:"enable_prompt_caching"`
	MaxRetries          int     `toml:"max_retries"`
	RetryInitialDelay   float64 `toml:"retry_initial_delay_seconds"`
	SystemPrompt        string  `toml:"system_prompt"`
}

// Timeout returns the per-request deadline.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds * float64(time.Second))
}

// RetryDelay returns the initial retry back-off.
func (p ProviderConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryInitialDelay * float64(time.Second))
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	Production bool   `toml:"production"`
}

// StorageConfig locates persistence.
type StorageConfig struct {
	SessionDBPath        string  `toml:"session_db_path"`
	EventStoreTTLSeconds float64 `toml:"event_store_ttl_seconds"`
}

// EventStoreTTL returns the stream expiry.
func (s StorageConfig) EventStoreTTL() time.Duration {
	return time.Duration(s.EventStoreTTLSeconds * float64(time.Second))
}

// SandboxConfig roots the tool filesystem.
type SandboxConfig struct {
	Dir string `toml:"dir"`
}

// ObserverConfig toggles OTEL instrumentation.
type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Type:                "anthropic",
			Model:               "claude-sonnet-4-20250514",
			MaxTokens:           8192,
			TimeoutSeconds:      30,
			EnablePromptCaching: true,
			MaxRetries:          3,
			RetryInitialDelay:   1,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Storage: StorageConfig{
			SessionDBPath:        "sessions.db",
			EventStoreTTLSeconds: 300,
		},
		Sandbox: SandboxConfig{
			Dir: "./workspace",
		},
	}
}

// Load reads the config file at path on top of the defaults. A missing file
// is not an error; the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
