package limits

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is a subscription level. Higher tiers satisfy lower requirements.
type Tier int

const (
	TierNone Tier = iota
	TierLite
	TierPlus
	TierPro
)

var tierNames = [...]string{"none", "lite", "plus", "pro"}

// String returns the lowercase tier name.
func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t >= TierNone && t <= TierPro
}

// AtLeast reports whether t satisfies min.
func (t Tier) AtLeast(min Tier) bool {
	return t >= min
}

// ParseTier parses a tier name, case-insensitively. The empty string is
// TierNone.
func ParseTier(s string) (Tier, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return TierNone, nil
	}
	for i, n := range tierNames {
		if n == name {
			return Tier(i), nil
		}
	}
	return TierNone, fmt.Errorf("unknown tier %q (expected none, lite, plus or pro)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UnmarshalYAML accepts tier names in YAML documents.
func (t *Tier) UnmarshalYAML(node *yaml.Node) error {
	return t.UnmarshalText([]byte(node.Value))
}

// MarshalYAML writes the tier name.
func (t Tier) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// Bypasses reports whether the caller skips the policy entirely: either the
// account is still inside its grace period or its tier meets MinTier.
func Bypasses(policy LimitPolicy, tier TierState, now time.Time) bool {
	if tier.InGrace(now) {
		return true
	}
	return tier.CurrentTier.AtLeast(policy.MinTier)
}
