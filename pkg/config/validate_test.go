package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"mercator-hq/cooldown/pkg/limits"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative tolerance", func(c *Config) { c.Engine.Tolerance = -time.Second }, "engine.tolerance"},
		{"negative flush interval", func(c *Config) { c.Engine.FlushInterval = -1 }, "engine.flush_interval"},
		{"bad sweep schedule", func(c *Config) { c.Engine.SweepSchedule = "sometimes" }, "engine.sweep_schedule"},
		{"negative default limit", func(c *Config) { c.Engine.DefaultPolicy.Limit = -1 }, "engine.default_policy.limit"},
		{"unknown min tier", func(c *Config) { c.Engine.DefaultPolicy.MinTier = "gold" }, "engine.default_policy.min_tier"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "tape" }, "storage.backend"},
		{"bad sqlite driver", func(c *Config) { c.Storage.SQLite.Driver = "bolt" }, "storage.sqlite.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.postgres.dsn"},
		{"redis without addr", func(c *Config) {
			c.Storage.Backend = "redis"
			c.Storage.Redis.Addr = ""
		}, "storage.redis.addr"},
		{"empty policy path", func(c *Config) { c.Policies.FilePath = "" }, "policies.file_path"},
		{"unknown current tier", func(c *Config) { c.Tier.Current = "platinum" }, "tier.current"},
		{"negative grace", func(c *Config) { c.Tier.GracePeriod = -time.Hour }, "tier.grace_period"},
		{"bad log level", func(c *Config) { c.Telemetry.Logging.Level = "loud" }, "telemetry.logging.level"},
		{"bad log format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }, "telemetry.logging.format"},
		{"relative metrics path", func(c *Config) {
			c.Telemetry.Metrics.Enabled = true
			c.Telemetry.Metrics.Path = "metrics"
		}, "telemetry.metrics.path"},
		{"bad sampler", func(c *Config) {
			c.Telemetry.Tracing.Enabled = true
			c.Telemetry.Tracing.Sampler = "sometimes"
		}, "telemetry.tracing.sampler"},
		{"sample ratio out of range", func(c *Config) { c.Telemetry.Tracing.SampleRatio = 1.5 }, "telemetry.tracing.sample_ratio"},
		{"bad listen address", func(c *Config) { c.Admin.ListenAddress = "localhost" }, "admin.listen_address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !verr.Has(tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, verr)
			}
		})
	}
}

func TestValidationError_Format(t *testing.T) {
	single := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}}}
	if got := single.Error(); got != "configuration validation failed: a: bad" {
		t.Errorf("unexpected single error format %q", got)
	}

	multi := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}}
	got := multi.Error()
	if !strings.HasPrefix(got, "configuration validation failed with 2 errors:") {
		t.Errorf("unexpected multi error header %q", got)
	}
	if !strings.Contains(got, "  - b: worse") {
		t.Errorf("expected each field listed, got %q", got)
	}
}

func TestConvert(t *testing.T) {
	cfg := Default()
	cfg.Tier = TierConfig{
		Current:          "Plus",
		AccountCreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		GracePeriod:      24 * time.Hour,
	}

	policy, err := cfg.Engine.LimitPolicy()
	if err != nil {
		t.Fatalf("LimitPolicy failed: %v", err)
	}
	if policy.Limit != 2 || policy.CooldownDuration != 120*time.Second || policy.MinTier != limits.TierLite {
		t.Errorf("unexpected default policy %+v", policy)
	}

	fallback, err := cfg.Engine.FallbackTier()
	if err != nil {
		t.Fatalf("FallbackTier failed: %v", err)
	}
	if fallback.CurrentTier != limits.TierNone {
		t.Errorf("expected fallback tier none, got %v", fallback.CurrentTier)
	}

	state, err := cfg.Tier.TierState()
	if err != nil {
		t.Fatalf("TierState failed: %v", err)
	}
	if state.CurrentTier != limits.TierPlus || state.GraceDuration != 24*time.Hour {
		t.Errorf("unexpected tier state %+v", state)
	}
}
