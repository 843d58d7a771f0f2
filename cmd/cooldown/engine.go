package main

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/cooldown/pkg/config"
	"mercator-hq/cooldown/pkg/limits"
	"mercator-hq/cooldown/pkg/limits/policy"
	"mercator-hq/cooldown/pkg/limits/storage"
)

// engineDeps are the optional collaborators of newEngine.
type engineDeps struct {
	logger  *slog.Logger
	metrics *limits.Metrics
	tracer  trace.Tracer
}

// newEngine wires the policy file, static tier and backend into an engine.
// A policy file that fails to load is logged; the engine then applies the
// configured default policy until a reload succeeds.
func newEngine(cfg *config.Config, backend storage.Backend, deps engineDeps) (*limits.Engine, *policy.FileProvider, error) {
	if deps.logger == nil {
		deps.logger = slog.Default()
	}

	defaultPolicy, err := cfg.Engine.LimitPolicy()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid default policy: %w", err)
	}
	fallbackTier, err := cfg.Engine.FallbackTier()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid default tier: %w", err)
	}
	tierState, err := cfg.Tier.TierState()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid tier: %w", err)
	}

	policies := policy.NewFileProvider(cfg.Policies.FilePath, deps.logger)
	if err := policies.Reload(); err != nil {
		deps.logger.Warn("policy file not loaded, using default policy",
			"path", cfg.Policies.FilePath,
			"error", err,
		)
	}

	engine, err := limits.NewEngine(limits.Config{
		Policies:      policies,
		Tiers:         limits.NewStaticTierProvider(tierState),
		Storage:       backend,
		Logger:        deps.logger,
		Metrics:       deps.metrics,
		Tracer:        deps.tracer,
		DefaultPolicy: &defaultPolicy,
		DefaultTier:   fallbackTier,
		Tolerance:     cfg.Engine.Tolerance,
		SweepSchedule: cfg.Engine.SweepSchedule,
		FlushInterval: cfg.Engine.FlushInterval,
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, policies, nil
}
