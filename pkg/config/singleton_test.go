package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestInitialize(t *testing.T) {
	resetForTest()
	t.Cleanup(resetForTest)

	path := writeConfig(t, `
storage:
  backend: memory
admin:
  listen_address: "127.0.0.1:7070"
`)

	if err := Initialize(path); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config after initialization")
	}
	if cfg.Admin.ListenAddress != "127.0.0.1:7070" {
		t.Errorf("expected listen address %q, got %q", "127.0.0.1:7070", cfg.Admin.ListenAddress)
	}
}

func TestInitialize_MultipleCallsIgnored(t *testing.T) {
	resetForTest()
	t.Cleanup(resetForTest)

	first := writeConfig(t, "storage:\n  backend: memory\n")
	second := writeConfig(t, "storage:\n  backend: redis\n")

	if err := Initialize(first); err != nil {
		t.Fatalf("first Initialize failed: %v", err)
	}
	if err := Initialize(second); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}

	if got := GetConfig().Storage.Backend; got != "memory" {
		t.Errorf("expected first configuration to stick, got backend %q", got)
	}
}

func TestGetConfig_BeforeInitialize(t *testing.T) {
	resetForTest()
	t.Cleanup(resetForTest)

	if cfg := GetConfig(); cfg != nil {
		t.Errorf("expected nil config before initialization, got %+v", cfg)
	}
}
