package config

import (
	"mercator-hq/cooldown/pkg/limits"
)

// LimitPolicy converts the configured fallback policy.
func (c EngineConfig) LimitPolicy() (limits.LimitPolicy, error) {
	tier, err := limits.ParseTier(c.DefaultPolicy.MinTier)
	if err != nil {
		return limits.LimitPolicy{}, err
	}
	p := limits.LimitPolicy{
		Limit:            c.DefaultPolicy.Limit,
		CooldownDuration: c.DefaultPolicy.Cooldown,
		MinTier:          tier,
	}
	return p, p.Validate()
}

// FallbackTier returns the tier state used when the tier provider fails.
func (c EngineConfig) FallbackTier() (limits.TierState, error) {
	tier, err := limits.ParseTier(c.DefaultTier)
	if err != nil {
		return limits.TierState{}, err
	}
	return limits.TierState{CurrentTier: tier}, nil
}

// TierState converts the static tier section.
func (c TierConfig) TierState() (limits.TierState, error) {
	tier, err := limits.ParseTier(c.Current)
	if err != nil {
		return limits.TierState{}, err
	}
	return limits.TierState{
		CurrentTier:      tier,
		AccountCreatedAt: c.AccountCreatedAt,
		GraceDuration:    c.GracePeriod,
	}, nil
}
