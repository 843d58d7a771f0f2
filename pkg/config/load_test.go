package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Full(t *testing.T) {
	path := writeConfig(t, `
engine:
  tolerance: 2s
  sweep_schedule: "@every 5s"
  flush_interval: 250ms
  default_policy:
    limit: 5
    cooldown: 10m
    min_tier: plus
  default_tier: lite

storage:
  backend: redis
  redis:
    addr: "redis:6379"
    db: 2

policies:
  file_path: /etc/cooldown/policies.yaml
  watch: true

tier:
  current: pro
  account_created_at: 2026-01-02T03:04:05Z
  grace_period: 72h

telemetry:
  logging:
    level: debug
    format: text
  metrics:
    enabled: true
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Engine.Tolerance != 2*time.Second {
		t.Errorf("expected tolerance 2s, got %v", cfg.Engine.Tolerance)
	}
	if cfg.Engine.FlushInterval != 250*time.Millisecond {
		t.Errorf("expected flush interval 250ms, got %v", cfg.Engine.FlushInterval)
	}
	if cfg.Engine.DefaultPolicy.Limit != 5 || cfg.Engine.DefaultPolicy.Cooldown != 10*time.Minute {
		t.Errorf("unexpected default policy %+v", cfg.Engine.DefaultPolicy)
	}
	if cfg.Storage.Redis.Addr != "redis:6379" || cfg.Storage.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Storage.Redis)
	}
	if cfg.Storage.Redis.KeyPrefix != DefaultRedisKeyPrefix {
		t.Errorf("expected default key prefix, got %q", cfg.Storage.Redis.KeyPrefix)
	}
	if !cfg.Policies.Watch {
		t.Error("expected policies.watch to be true")
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !cfg.Tier.AccountCreatedAt.Equal(want) {
		t.Errorf("expected account_created_at %v, got %v", want, cfg.Tier.AccountCreatedAt)
	}
	if cfg.Tier.GracePeriod != 72*time.Hour {
		t.Errorf("expected grace period 72h, got %v", cfg.Tier.GracePeriod)
	}
	if !cfg.Telemetry.Metrics.Enabled || cfg.Telemetry.Metrics.Path != DefaultMetricsPath {
		t.Errorf("unexpected metrics config %+v", cfg.Telemetry.Metrics)
	}
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.Backend != DefaultStorageBackend {
		t.Errorf("expected backend %q, got %q", DefaultStorageBackend, cfg.Storage.Backend)
	}
	if cfg.Engine.SweepSchedule != DefaultSweepSchedule {
		t.Errorf("expected sweep schedule %q, got %q", DefaultSweepSchedule, cfg.Engine.SweepSchedule)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_UnknownField(t *testing.T) {
	path := writeConfig(t, "engine:\n  tolerence: 1s\n")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for misspelled field")
	}
	if !strings.Contains(err.Error(), "tolerence") {
		t.Errorf("expected error to name the field, got %v", err)
	}
}

func TestLoadConfig_InvalidReportsAllFields(t *testing.T) {
	path := writeConfig(t, `
engine:
  sweep_schedule: "every second"
  default_tier: gold
storage:
  backend: floppy
`)

	_, err := LoadConfig(path)
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"engine.sweep_schedule", "engine.default_tier", "storage.backend"} {
		if !verr.Has(field) {
			t.Errorf("expected validation error for %s, got %v", field, verr)
		}
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: memory
telemetry:
  logging:
    level: info
`)

	t.Setenv("COOLDOWN_STORAGE_BACKEND", "postgres")
	t.Setenv("COOLDOWN_STORAGE_POSTGRES_DSN", "postgres://localhost/cooldown")
	t.Setenv("COOLDOWN_TELEMETRY_LOGGING_LEVEL", "warn")
	t.Setenv("COOLDOWN_ENGINE_TOLERANCE", "3s")
	t.Setenv("COOLDOWN_POLICIES_WATCH", "true")
	t.Setenv("COOLDOWN_TIER_CURRENT", "plus")
	t.Setenv("COOLDOWN_TIER_ACCOUNT_CREATED_AT", "2026-03-01T00:00:00Z")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}

	if cfg.Storage.Backend != "postgres" {
		t.Errorf("expected backend postgres, got %q", cfg.Storage.Backend)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("expected level warn, got %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Engine.Tolerance != 3*time.Second {
		t.Errorf("expected tolerance 3s, got %v", cfg.Engine.Tolerance)
	}
	if !cfg.Policies.Watch {
		t.Error("expected policies.watch from environment")
	}
	if cfg.Tier.Current != "plus" {
		t.Errorf("expected tier plus, got %q", cfg.Tier.Current)
	}
	if cfg.Tier.AccountCreatedAt.IsZero() {
		t.Error("expected account_created_at from environment")
	}
}

func TestLoadConfigWithEnvOverrides_MalformedValueIgnored(t *testing.T) {
	path := writeConfig(t, "engine:\n  tolerance: 2s\n")
	t.Setenv("COOLDOWN_ENGINE_TOLERANCE", "soon")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}
	if cfg.Engine.Tolerance != 2*time.Second {
		t.Errorf("expected file tolerance to survive, got %v", cfg.Engine.Tolerance)
	}
}

func TestLoadConfigWithEnvOverrides_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("COOLDOWN_STORAGE_BACKEND", "memory")

	cfg, err := LoadConfigWithEnvOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("expected backend memory, got %q", cfg.Storage.Backend)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("COOLDOWN_ADMIN_LISTEN_ADDRESS=127.0.0.1:6060\n"), 0644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Setenv("COOLDOWN_ADMIN_LISTEN_ADDRESS", "")
	os.Unsetenv("COOLDOWN_ADMIN_LISTEN_ADDRESS")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envFile); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}

	cfg, err := LoadConfigWithEnvOverrides(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}
	if cfg.Admin.ListenAddress != "127.0.0.1:6060" {
		t.Errorf("expected address from .env, got %q", cfg.Admin.ListenAddress)
	}
}
