package limits

import (
	"context"
	"fmt"
	"sync"
)

// PolicyProvider supplies the limit policy for a feature.
type PolicyProvider interface {
	Get(ctx context.Context, featureID string) (LimitPolicy, error)
}

// TierProvider supplies the caller's current tier state.
type TierProvider interface {
	Get(ctx context.Context) (TierState, error)
}

// PolicyProviderFunc adapts a function to PolicyProvider.
type PolicyProviderFunc func(ctx context.Context, featureID string) (LimitPolicy, error)

// Get calls f.
func (f PolicyProviderFunc) Get(ctx context.Context, featureID string) (LimitPolicy, error) {
	return f(ctx, featureID)
}

// TierProviderFunc adapts a function to TierProvider.
type TierProviderFunc func(ctx context.Context) (TierState, error)

// Get calls f.
func (f TierProviderFunc) Get(ctx context.Context) (TierState, error) {
	return f(ctx)
}

// StaticPolicyProvider serves policies from a map. Unknown features return
// ErrPolicyUnavailable so the engine applies its default policy.
type StaticPolicyProvider struct {
	mu       sync.RWMutex
	policies map[string]LimitPolicy
}

// NewStaticPolicyProvider copies policies into a new provider.
func NewStaticPolicyProvider(policies map[string]LimitPolicy) *StaticPolicyProvider {
	p := &StaticPolicyProvider{policies: make(map[string]LimitPolicy, len(policies))}
	for id, pol := range policies {
		pol.FeatureID = id
		p.policies[id] = pol
	}
	return p
}

// Get returns the policy for featureID.
func (p *StaticPolicyProvider) Get(_ context.Context, featureID string) (LimitPolicy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pol, ok := p.policies[featureID]
	if !ok {
		return LimitPolicy{}, fmt.Errorf("%w: no policy for %q", ErrPolicyUnavailable, featureID)
	}
	return pol, nil
}

// Set replaces the policy for featureID.
func (p *StaticPolicyProvider) Set(featureID string, policy LimitPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	policy.FeatureID = featureID
	p.policies[featureID] = policy
}

// Delete removes the policy for featureID.
func (p *StaticPolicyProvider) Delete(featureID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.policies, featureID)
}

// StaticTierProvider returns a fixed, replaceable TierState.
type StaticTierProvider struct {
	mu    sync.RWMutex
	state TierState
}

// NewStaticTierProvider creates a provider serving state.
func NewStaticTierProvider(state TierState) *StaticTierProvider {
	return &StaticTierProvider{state: state}
}

// Get returns the current state.
func (p *StaticTierProvider) Get(context.Context) (TierState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state, nil
}

// Set replaces the state, e.g. after a purchase.
func (p *StaticTierProvider) Set(state TierState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}
