package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level override to survive, got %q", cfg.LogLevel)
	}
	if cfg.BrowserPoolSize != 4 {
		t.Fatalf("expected default browser pool size 4, got %d", cfg.BrowserPoolSize)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
}

func TestApplyDefaultsClampsBrowserPoolSize(t *testing.T) {
	cfg := &Config{BrowserPoolSize: 9999}
	cfg.ApplyDefaults()
	if cfg.BrowserPoolSize != 64 {
		t.Fatalf("expected browser pool size clamped to 64, got %d", cfg.BrowserPoolSize)
	}
}

func TestLoadFromEnvOverridesAPIKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")
	cfg := &Config{}
	cfg.LoadFromEnv()
	if cfg.AnthropicAPIKey != "sk-test-123" {
		t.Fatalf("expected env override to set AnthropicAPIKey, got %q", cfg.AnthropicAPIKey)
	}
}
