// Package config loads and validates cooldown service configuration.
//
// Configuration comes from a YAML file, is completed with defaults and may
// be overridden by COOLDOWN_SECTION_FIELD environment variables:
//
//   - COOLDOWN_STORAGE_BACKEND overrides storage.backend
//   - COOLDOWN_ENGINE_TOLERANCE overrides engine.tolerance
//   - COOLDOWN_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Values are applied in this order, later winning:
//
//  1. Defaults (defaults.go)
//  2. The YAML file
//  3. Environment variables, optionally seeded from a .env file via LoadDotEnv
//  4. Validation, which reports every bad field at once
//
// # Example Configuration
//
//	engine:
//	  tolerance: 1s
//	  sweep_schedule: "@every 1s"
//	  default_policy:
//	    limit: 2
//	    cooldown: 120s
//	    min_tier: lite
//
//	storage:
//	  backend: sqlite
//	  sqlite:
//	    path: data/usage.db
//
//	policies:
//	  file_path: ./policies.yaml
//	  watch: true
//
//	tier:
//	  current: none
//
// # Singleton
//
// Initialize and GetConfig give process-wide access for the command line
// tool. Library code should take an explicit *Config instead.
package config
