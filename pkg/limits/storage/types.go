package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GlobalScope is the scope key for features with a single shared counter.
const GlobalScope = "global"

// Key identifies one usage record: a feature and a scope within it.
type Key struct {
	// FeatureID identifies an independently limited capability (e.g. "refresh").
	FeatureID string

	// ScopeKey is GlobalScope or a relationship identifier such as a partner ID.
	ScopeKey string
}

// NewKey builds a Key. An empty scope key maps to GlobalScope.
func NewKey(featureID, scopeKey string) Key {
	if scopeKey == "" {
		scopeKey = GlobalScope
	}
	return Key{FeatureID: featureID, ScopeKey: scopeKey}
}

// String returns the structured storage key "{featureId}:{scopeKey}".
func (k Key) String() string {
	return k.FeatureID + ":" + k.ScopeKey
}

// Validate reports whether the key can be stored. Feature IDs may not contain
// ':' so that String round-trips through ParseKey.
func (k Key) Validate() error {
	if k.FeatureID == "" {
		return fmt.Errorf("%w: feature id cannot be empty", ErrInvalidKey)
	}
	if strings.Contains(k.FeatureID, ":") {
		return fmt.Errorf("%w: feature id %q contains ':'", ErrInvalidKey, k.FeatureID)
	}
	if k.ScopeKey == "" {
		return fmt.Errorf("%w: scope key cannot be empty", ErrInvalidKey)
	}
	return nil
}

// ParseKey parses "{featureId}:{scopeKey}". The scope key may itself contain ':'.
func ParseKey(s string) (Key, error) {
	feature, scope, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q is not of the form feature:scope", ErrInvalidKey, s)
	}
	k := Key{FeatureID: feature, ScopeKey: scope}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// UsageRecord is the persisted usage state of one (feature, scope) pair.
type UsageRecord struct {
	// FeatureID is the limited feature.
	FeatureID string `json:"feature_id"`

	// ScopeKey is the scope within the feature.
	ScopeKey string `json:"scope_key"`

	// Count is the number of consumed uses in the current limit cycle.
	Count int `json:"count"`

	// CooldownStartAt is when the cooldown was armed, or nil when not armed.
	CooldownStartAt *time.Time `json:"cooldown_start_at,omitempty"`

	// UpdatedAt is when the record was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord returns a fresh zero record for key.
func NewRecord(key Key, now time.Time) *UsageRecord {
	return &UsageRecord{
		FeatureID: key.FeatureID,
		ScopeKey:  key.ScopeKey,
		UpdatedAt: now,
	}
}

// Key returns the record's key.
func (r UsageRecord) Key() Key {
	return Key{FeatureID: r.FeatureID, ScopeKey: r.ScopeKey}
}

// Armed reports whether a cooldown has been started.
func (r UsageRecord) Armed() bool {
	return r.CooldownStartAt != nil
}

// Clone returns a deep copy of the record.
func (r *UsageRecord) Clone() *UsageRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.CooldownStartAt != nil {
		t := *r.CooldownStartAt
		c.CooldownStartAt = &t
	}
	return &c
}

// Backend persists usage records. Implementations must be safe for
// concurrent use; records are never deleted.
type Backend interface {
	// GetRecord returns the record for key, or (nil, nil) when none exists.
	GetRecord(ctx context.Context, key Key) (*UsageRecord, error)

	// PutRecord inserts or replaces the record under its key.
	PutRecord(ctx context.Context, record *UsageRecord) error

	// List returns every stored record.
	List(ctx context.Context) ([]*UsageRecord, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources. The backend must not be used afterwards.
	Close() error
}

var (
	// ErrInvalidKey is returned for keys that cannot be stored.
	ErrInvalidKey = errors.New("invalid usage key")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("storage backend closed")
)

func validateRecord(record *UsageRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	return record.Key().Validate()
}
