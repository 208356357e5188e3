package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_BRIDGE_KEY", "secret-key")

	path := writeConfig(t, `
upstream:
  rest_url: http://localhost:9999
  ws_url: ws://localhost:9999
  api_key: ${TEST_BRIDGE_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Upstream.APIKey != "secret-key" {
		t.Errorf("APIKey = %q, want expanded env var", cfg.Upstream.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "upstream: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeConfig(t, `
upstream:
  rest_url: http://localhost:9999
  ws_url: ws://localhost:9999
`)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Streaming.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want 5s", cfg.Streaming.ConnectTimeout)
	}
	if cfg.Reconnect.BaseDelay != 5*time.Second {
		t.Errorf("BaseDelay = %v, want 5s", cfg.Reconnect.BaseDelay)
	}
	if cfg.Reconnect.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.Reconnect.MaxDelay)
	}
	if cfg.Reconnect.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d, want 10", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Request.Timeout != 30*time.Second {
		t.Errorf("Request.Timeout = %v, want 30s", cfg.Request.Timeout)
	}
	// Explicit values survive default application.
	if cfg.Upstream.RestURL != "http://localhost:9999" {
		t.Errorf("RestURL = %q", cfg.Upstream.RestURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BridgeConfig)
		wantErr string
	}{
		{"valid defaults", func(c *BridgeConfig) {}, ""},
		{"bad ws scheme", func(c *BridgeConfig) { c.Upstream.WSURL = "http://x" }, "ws_url"},
		{"missing rest url", func(c *BridgeConfig) { c.Upstream.RestURL = "" }, "rest_url"},
		{"zero max attempts", func(c *BridgeConfig) { c.Reconnect.MaxAttempts = -1 }, "max_attempts"},
		{"max below base", func(c *BridgeConfig) { c.Reconnect.MaxDelay = time.Second }, "max_delay"},
		{"bad health port", func(c *BridgeConfig) { c.Health.Port = 70000 }, "health.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAndValidate_Invalid(t *testing.T) {
	path := writeConfig(t, `
upstream:
  ws_url: http://not-a-ws-url
`)
	if _, err := LoadAndValidate(path); err == nil {
		t.Fatal("expected validation error")
	}
}
