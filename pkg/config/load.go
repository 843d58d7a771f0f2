package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "COOLDOWN_"

// LoadConfig loads configuration from a YAML file, applies defaults and
// validates the result. Environment variables are not consulted.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML and applies defaults. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// COOLDOWN_SECTION_FIELD environment overrides on top, then re-validates.
// A missing file is not an error: defaults and the environment still apply.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	} else {
		cfg = Default()
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %q: %w", f, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Engine
	envDuration("ENGINE_TOLERANCE", &cfg.Engine.Tolerance)
	envString("ENGINE_SWEEP_SCHEDULE", &cfg.Engine.SweepSchedule)
	envDuration("ENGINE_FLUSH_INTERVAL", &cfg.Engine.FlushInterval)
	envInt("ENGINE_DEFAULT_POLICY_LIMIT", &cfg.Engine.DefaultPolicy.Limit)
	envDuration("ENGINE_DEFAULT_POLICY_COOLDOWN", &cfg.Engine.DefaultPolicy.Cooldown)
	envString("ENGINE_DEFAULT_POLICY_MIN_TIER", &cfg.Engine.DefaultPolicy.MinTier)
	envString("ENGINE_DEFAULT_TIER", &cfg.Engine.DefaultTier)

	// Storage
	envString("STORAGE_BACKEND", &cfg.Storage.Backend)
	envString("STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	envString("STORAGE_SQLITE_DRIVER", &cfg.Storage.SQLite.Driver)
	envDuration("STORAGE_SQLITE_BUSY_TIMEOUT", &cfg.Storage.SQLite.BusyTimeout)
	envString("STORAGE_REDIS_ADDR", &cfg.Storage.Redis.Addr)
	envString("STORAGE_REDIS_PASSWORD", &cfg.Storage.Redis.Password)
	envInt("STORAGE_REDIS_DB", &cfg.Storage.Redis.DB)
	envString("STORAGE_REDIS_KEY_PREFIX", &cfg.Storage.Redis.KeyPrefix)
	envString("STORAGE_POSTGRES_DSN", &cfg.Storage.Postgres.DSN)
	envString("STORAGE_POSTGRES_TABLE", &cfg.Storage.Postgres.Table)

	// Policies
	envString("POLICIES_FILE_PATH", &cfg.Policies.FilePath)
	envBool("POLICIES_WATCH", &cfg.Policies.Watch)
	envDuration("POLICIES_DEBOUNCE", &cfg.Policies.Debounce)

	// Tier
	envString("TIER_CURRENT", &cfg.Tier.Current)
	envDuration("TIER_GRACE_PERIOD", &cfg.Tier.GracePeriod)
	if val := os.Getenv(EnvPrefix + "TIER_ACCOUNT_CREATED_AT"); val != "" {
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			cfg.Tier.AccountCreatedAt = t
		}
	}

	// Telemetry
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}

	// Admin
	envString("ADMIN_LISTEN_ADDRESS", &cfg.Admin.ListenAddress)
}

// Malformed values are ignored and the file value stays in place.

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
