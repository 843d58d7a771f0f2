package limits

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/cooldown/pkg/limits/storage"
	"mercator-hq/cooldown/pkg/limits/usage"
)

// Key identifies a (feature, scope) pair.
type Key = storage.Key

// UsageRecord is the persisted state of one key.
type UsageRecord = storage.UsageRecord

// GlobalScope is the scope key for features with a single shared counter.
const GlobalScope = storage.GlobalScope

// LimitPolicy describes how one feature is limited.
type LimitPolicy struct {
	// FeatureID identifies the feature.
	FeatureID string `yaml:"-" json:"feature_id"`

	// Limit is the number of uses allowed per cycle. Zero locks the feature
	// to tiers at or above MinTier.
	Limit int `yaml:"limit" json:"limit"`

	// CooldownDuration is how long the cooldown lasts once armed.
	CooldownDuration time.Duration `yaml:"cooldown" json:"cooldown"`

	// MinTier is the lowest tier that bypasses the limit entirely.
	MinTier Tier `yaml:"min_tier" json:"min_tier"`
}

// Validate checks that the policy is usable.
func (p LimitPolicy) Validate() error {
	if p.Limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", p.Limit)
	}
	if p.CooldownDuration < 0 {
		return fmt.Errorf("cooldown must be >= 0, got %s", p.CooldownDuration)
	}
	if !p.MinTier.Valid() {
		return fmt.Errorf("unknown min tier %d", int(p.MinTier))
	}
	return nil
}

// TierState is the caller's subscription standing.
type TierState struct {
	// CurrentTier is the active subscription tier.
	CurrentTier Tier `json:"current_tier"`

	// AccountCreatedAt starts the grace period.
	AccountCreatedAt time.Time `json:"account_created_at"`

	// GraceDuration is how long a new account bypasses every limit.
	GraceDuration time.Duration `json:"grace_duration"`
}

// InGrace reports whether now falls inside the new-account grace period.
func (s TierState) InGrace(now time.Time) bool {
	if s.GraceDuration <= 0 || s.AccountCreatedAt.IsZero() {
		return false
	}
	return now.Sub(s.AccountCreatedAt) < s.GraceDuration
}

// CheckResult is the decision returned by Check.
type CheckResult struct {
	// CanProceed is true when the caller may perform the action now.
	CanProceed bool `json:"can_proceed"`

	// RequiresPrompt is true when the caller should show an upgrade or
	// cooldown prompt.
	RequiresPrompt bool `json:"requires_prompt"`

	// CurrentUsage is the count consumed in the current cycle.
	CurrentUsage int `json:"current_usage"`

	// Limit is the policy limit.
	Limit int `json:"limit"`

	// RemainingCooldown is the time left before the cooldown expires.
	// Zero when the cooldown is not armed.
	RemainingCooldown time.Duration `json:"remaining_cooldown"`

	// Bypassed is true when the tier or grace period skipped the limit.
	Bypassed bool `json:"bypassed"`
}

var (
	// ErrPolicyUnavailable is returned when no policy could be resolved for
	// a feature. The engine falls back to the last known or default policy.
	ErrPolicyUnavailable = errors.New("limit policy unavailable")

	// ErrTierUnavailable is returned when the tier provider fails.
	ErrTierUnavailable = errors.New("tier state unavailable")

	// ErrStorageRead is returned when usage state cannot be loaded.
	ErrStorageRead = usage.ErrRead

	// ErrStorageWrite is returned when usage state cannot be persisted.
	ErrStorageWrite = usage.ErrWrite

	// ErrTimerScheduling is returned when a cooldown timer cannot be armed.
	// The sweep still catches the expiry.
	ErrTimerScheduling = errors.New("cooldown timer scheduling failed")

	// ErrInvalidKey is returned for empty or malformed feature IDs.
	ErrInvalidKey = storage.ErrInvalidKey

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("limit engine closed")
)

// KeyError adds the operation and key to an engine error.
type KeyError struct {
	// Op is the engine operation (check, arm, consume, reset).
	Op string

	// Key is the usage key the operation targeted.
	Key Key

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error for error wrapping.
func (e *KeyError) Unwrap() error {
	return e.Err
}
