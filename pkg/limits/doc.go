// Package limits provides tiered usage limits with cooldowns.
//
// # Overview
//
// Each limited feature (refresh, search, messages, ...) has a LimitPolicy:
// a use count per cycle, a cooldown duration and the minimum subscription
// tier that skips the limit. Usage is tracked per (feature, scope) key, where
// the scope is GlobalScope or a relationship identifier such as a partner ID.
//
// A key moves through a simple cycle:
//
//	fresh -> Consume ... -> limit reached -> ArmCooldownIfNeeded -> cooling down -> expired -> fresh
//
// The cooldown starts only when ArmCooldownIfNeeded is called, normally when
// the host first shows the limit prompt, not when the last use is consumed.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - clock: injectable wall clock and one-shot timers
//   - storage: persistence backends (memory, SQLite, Redis, PostgreSQL)
//   - usage: in-memory mirror of usage records with write-through or debounced flushing
//   - scheduler: precision expiry timers plus a cron-driven fallback sweep
//   - policy: YAML policy file provider with hot reload
//
// # Usage
//
//	engine, err := limits.NewEngine(limits.Config{
//	    Policies: policy.NewFileProvider("policies.yaml", logger),
//	    Tiers:    tiers,
//	    Storage:  backend,
//	})
//	if err := engine.Start(ctx); err != nil {
//	    return err
//	}
//	defer engine.Close(ctx)
//
//	res, err := engine.Check(ctx, "refresh", limits.GlobalScope)
//	switch {
//	case res.CanProceed:
//	    engine.Consume(ctx, "refresh", limits.GlobalScope)
//	case res.RequiresPrompt:
//	    engine.ArmCooldownIfNeeded(ctx, "refresh", limits.GlobalScope)
//	}
//
// # Failure Handling
//
// Provider and storage failures never block a caller. Policies and tier
// state fall back to the last known value and then to configured defaults;
// unreadable usage is treated as unused. Failures are logged and counted in
// Metrics.
//
// # Thread Safety
//
// Engine methods are safe for concurrent use. Operations on one key are
// serialized, including timer callbacks; different keys never contend.
// Start and Resume block all operations until every key has been
// reconciled against the clock.
package limits
