package config

import "time"

// Config is the root configuration structure for the cooldown service.
type Config struct {
	// Engine tunes expiry detection, flushing and the fallback policy.
	Engine EngineConfig `yaml:"engine"`

	// Storage selects and configures the usage storage backend.
	Storage StorageConfig `yaml:"storage"`

	// Policies locates the per-feature policy file.
	Policies PoliciesConfig `yaml:"policies"`

	// Tier is the static tier source used when the host has no
	// subscription service of its own.
	Tier TierConfig `yaml:"tier"`

	// Telemetry contains logging, metrics, tracing and health settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Admin configures the admin HTTP listener.
	Admin AdminConfig `yaml:"admin"`
}

// EngineConfig configures the limit engine.
type EngineConfig struct {
	// Tolerance absorbs rounding when testing cooldown expiry.
	// Default: 1s
	Tolerance time.Duration `yaml:"tolerance"`

	// SweepSchedule is the cron spec for the fallback expiry sweep.
	// Default: "@every 1s"
	SweepSchedule string `yaml:"sweep_schedule"`

	// FlushInterval debounces storage writes. Zero writes every change
	// through immediately.
	// Default: 0
	FlushInterval time.Duration `yaml:"flush_interval"`

	// DefaultPolicy applies to features whose policy cannot be resolved.
	DefaultPolicy PolicyConfig `yaml:"default_policy"`

	// DefaultTier is used when the tier provider fails.
	// Options: "none", "lite", "plus", "pro"
	// Default: "none"
	DefaultTier string `yaml:"default_tier"`
}

// PolicyConfig is a limit policy as written in configuration.
type PolicyConfig struct {
	// Limit is the number of uses per cycle. Zero allows only bypassing tiers.
	// Default: 2
	Limit int `yaml:"limit"`

	// Cooldown is how long the cooldown lasts once armed.
	// Default: 120s
	Cooldown time.Duration `yaml:"cooldown"`

	// MinTier is the lowest tier that bypasses the limit.
	// Default: "lite"
	MinTier string `yaml:"min_tier"`
}

// StorageConfig selects the usage storage backend.
type StorageConfig struct {
	// Backend is the storage backend type.
	// Options: "memory", "sqlite", "redis", "postgres"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Redis contains Redis-specific configuration.
	Redis RedisConfig `yaml:"redis"`

	// Postgres contains PostgreSQL-specific configuration.
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: "data/usage.db"
	Path string `yaml:"path"`

	// Driver is the database/sql driver name.
	// Options: "sqlite" (pure Go), "sqlite3" (cgo)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long a writer waits for a lock.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// SnapshotInterval is how often the WAL is checkpointed.
	// Default: 5m
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	// Addr is host:port of the Redis server.
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	// Password authenticates to Redis.
	Password string `yaml:"password"`

	// DB selects the logical database.
	DB int `yaml:"db"`

	// KeyPrefix namespaces usage hashes.
	// Default: "cooldown:usage:"
	KeyPrefix string `yaml:"key_prefix"`

	// Timeout bounds each round trip.
	// Default: 2s
	Timeout time.Duration `yaml:"timeout"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	// DSN is the connection string.
	DSN string `yaml:"dsn"`

	// Table holds usage rows.
	// Default: "cooldown_usage"
	Table string `yaml:"table"`
}

// PoliciesConfig locates the policy file.
type PoliciesConfig struct {
	// FilePath is the YAML policy file.
	// Default: "./policies.yaml"
	FilePath string `yaml:"file_path"`

	// Watch reloads policies when the file changes.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce collapses bursts of file events.
	// Default: 100ms
	Debounce time.Duration `yaml:"debounce"`
}

// TierConfig is a static tier state.
type TierConfig struct {
	// Current is the subscription tier.
	// Default: "none"
	Current string `yaml:"current"`

	// AccountCreatedAt starts the grace period. Zero disables grace.
	AccountCreatedAt time.Time `yaml:"account_created_at"`

	// GracePeriod is how long a new account bypasses every limit.
	GracePeriod time.Duration `yaml:"grace_period"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled exposes Prometheus metrics on the admin listener.
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "cooldown"
	Namespace string `yaml:"namespace"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "cooldown"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	// CheckTimeout bounds each component check.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	// ListenAddress is host:port for the admin API.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing a response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}
