package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
port: 9000
proxy-url: http://proxy:3128
settings:
  fallback-strategy: round-robin
  sticky-round-robin-limit: 5
connections:
  - backend: openai
    api-key: sk-test
  - id: work
    backend: gemini-cli
    refresh-token: rt
    proxy-url: http://other:3128
model-routes:
  fast:
    backend: gemini
    model: gemini-2.5-flash
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.LogLevel)
	}
	if cfg.Settings.FallbackStrategy != "round-robin" || cfg.Settings.StickyLimit != 5 {
		t.Errorf("Settings = %+v", cfg.Settings)
	}
	if got := cfg.Connections[0].ID; got != "openai-0" {
		t.Errorf("auto id = %q", got)
	}
	if got := cfg.Connections[0].ProxyURL; got != "http://proxy:3128" {
		t.Errorf("ProxyURL = %q, connections inherit the global proxy", got)
	}
	if got := cfg.Connections[1].ProxyURL; got != "http://other:3128" {
		t.Errorf("ProxyURL = %q, explicit value must win", got)
	}
	route, ok := cfg.ModelRoutes["fast"]
	if !ok || route.Backend != "gemini" || route.Model != "gemini-2.5-flash" {
		t.Errorf("route = %+v ok=%v", route, ok)
	}
}

func TestLoad_JSONC(t *testing.T) {
	path := writeFile(t, "config.jsonc", `{
	// commented config
	"port": 9100,
	"connections": [
		{"backend": "claude", "api-key": "sk-ant"}, // trailing comma next
	],
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if len(cfg.Connections) != 1 || cfg.Connections[0].Backend != "claude" {
		t.Errorf("Connections = %+v", cfg.Connections)
	}
}

func TestLoad_Validation(t *testing.T) {
	path := writeFile(t, "config.yaml", "connections:\n  - api-key: k\n")
	if _, err := Load(path); err == nil {
		t.Error("missing backend must fail validation")
	}

	path = writeFile(t, "config.yaml", "connections:\n  - backend: openai\n")
	if _, err := Load(path); err == nil {
		t.Error("connection without credential material must fail validation")
	}

	path = writeFile(t, "config.yaml", "settings:\n  fallback-strategy: random\n")
	if _, err := Load(path); err == nil {
		t.Error("unknown strategy must fail validation")
	}
}

func TestLoadOptional_MissingFile(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadOptional failed: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want default", cfg.Port)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MODELGATE_PORT", "9999")
	t.Setenv("MODELGATE_LOG_LEVEL", "debug")
	t.Setenv("MODELGATE_USAGE_DSN", "sqlite://usage.db")

	cfg := NewDefault()
	cfg.ApplyEnvOverrides()
	if cfg.Port != 9999 || cfg.LogLevel != "debug" || cfg.Usage.DSN != "sqlite://usage.db" {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv("MODELGATE_PORT", "not-a-port")
	cfg = NewDefault()
	cfg.ApplyEnvOverrides()
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, junk env values must not apply", cfg.Port)
	}
}
