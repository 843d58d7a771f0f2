package config

import "time"

// Default values for configuration fields.
const (
	// Engine defaults
	DefaultTolerance      = time.Second
	DefaultSweepSchedule  = "@every 1s"
	DefaultPolicyLimit    = 2
	DefaultPolicyCooldown = 120 * time.Second
	DefaultPolicyMinTier  = "lite"
	DefaultTierName       = "none"

	// Storage defaults
	DefaultStorageBackend         = "sqlite"
	DefaultSQLitePath             = "data/usage.db"
	DefaultSQLiteDriver           = "sqlite"
	DefaultSQLiteBusyTimeout      = 5 * time.Second
	DefaultSQLiteSnapshotInterval = 5 * time.Minute
	DefaultRedisAddr              = "localhost:6379"
	DefaultRedisKeyPrefix         = "cooldown:usage:"
	DefaultRedisTimeout           = 2 * time.Second
	DefaultPostgresTable          = "cooldown_usage"

	// Policy defaults
	DefaultPoliciesFilePath = "./policies.yaml"
	DefaultPoliciesDebounce = 100 * time.Millisecond

	// Telemetry defaults
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "cooldown"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingService     = "cooldown"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultHealthCheckTimeout = 5 * time.Second

	// Admin defaults
	DefaultAdminListenAddress   = "127.0.0.1:9090"
	DefaultAdminReadTimeout     = 10 * time.Second
	DefaultAdminWriteTimeout    = 10 * time.Second
	DefaultAdminShutdownTimeout = 15 * time.Second
)

// ApplyDefaults fills zero-valued fields with defaults. Boolean fields are
// left as written.
func ApplyDefaults(cfg *Config) {
	applyEngineDefaults(&cfg.Engine)
	applyStorageDefaults(&cfg.Storage)

	if cfg.Policies.FilePath == "" {
		cfg.Policies.FilePath = DefaultPoliciesFilePath
	}
	if cfg.Policies.Debounce == 0 {
		cfg.Policies.Debounce = DefaultPoliciesDebounce
	}

	if cfg.Tier.Current == "" {
		cfg.Tier.Current = DefaultTierName
	}

	applyTelemetryDefaults(&cfg.Telemetry)

	if cfg.Admin.ListenAddress == "" {
		cfg.Admin.ListenAddress = DefaultAdminListenAddress
	}
	if cfg.Admin.ReadTimeout == 0 {
		cfg.Admin.ReadTimeout = DefaultAdminReadTimeout
	}
	if cfg.Admin.WriteTimeout == 0 {
		cfg.Admin.WriteTimeout = DefaultAdminWriteTimeout
	}
	if cfg.Admin.ShutdownTimeout == 0 {
		cfg.Admin.ShutdownTimeout = DefaultAdminShutdownTimeout
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	// A fully empty default policy gets the built-in one; a partially
	// written one keeps its explicit zero limit.
	if cfg.DefaultPolicy == (PolicyConfig{}) {
		cfg.DefaultPolicy = PolicyConfig{
			Limit:    DefaultPolicyLimit,
			Cooldown: DefaultPolicyCooldown,
			MinTier:  DefaultPolicyMinTier,
		}
	}
	if cfg.DefaultPolicy.MinTier == "" {
		cfg.DefaultPolicy.MinTier = DefaultPolicyMinTier
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = DefaultTierName
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultStorageBackend
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultSQLitePath
	}
	if cfg.SQLite.Driver == "" {
		cfg.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.SQLite.SnapshotInterval == 0 {
		cfg.SQLite.SnapshotInterval = DefaultSQLiteSnapshotInterval
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.Timeout == 0 {
		cfg.Redis.Timeout = DefaultRedisTimeout
	}
	if cfg.Postgres.Table == "" {
		cfg.Postgres.Table = DefaultPostgresTable
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingService
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
