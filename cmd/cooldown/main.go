// Cooldown serves tiered usage limits with cooldowns.
//
// It tracks per-feature, per-scope usage counters, starts a cooldown the
// first time a caller is shown the limit prompt, and resets the counter when
// the cooldown runs out. Policies come from a YAML file that is reloaded on
// change; usage persists in SQLite, Redis or PostgreSQL.
//
// Usage:
//
//	# Start the engine and admin API
//	cooldown run --config config.yaml
//
//	# Check configuration and policy files
//	cooldown validate --config config.yaml
//
//	# Inspect or reset stored usage
//	cooldown usage list
//	cooldown usage reset refresh global
package main

func main() {
	Execute()
}
