package limits

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		input   string
		want    Tier
		wantErr bool
	}{
		{input: "", want: TierNone},
		{input: "none", want: TierNone},
		{input: "Lite", want: TierLite},
		{input: " PLUS ", want: TierPlus},
		{input: "pro", want: TierPro},
		{input: "gold", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTier(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseTier(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTier_Ordering(t *testing.T) {
	if !(TierNone < TierLite && TierLite < TierPlus && TierPlus < TierPro) {
		t.Fatal("tiers are not totally ordered")
	}
	if !TierPro.AtLeast(TierLite) {
		t.Error("pro should satisfy lite")
	}
	if TierLite.AtLeast(TierPlus) {
		t.Error("lite should not satisfy plus")
	}
	if Tier(9).Valid() {
		t.Error("Tier(9) reported valid")
	}
}

func TestTier_YAML(t *testing.T) {
	var doc struct {
		Tier Tier `yaml:"tier"`
	}
	if err := yaml.Unmarshal([]byte("tier: plus\n"), &doc); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if doc.Tier != TierPlus {
		t.Errorf("Tier = %v, want plus", doc.Tier)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != "tier: plus\n" {
		t.Errorf("Marshal = %q", out)
	}

	if err := yaml.Unmarshal([]byte("tier: diamond\n"), &doc); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestBypasses(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	policy := LimitPolicy{Limit: 2, CooldownDuration: time.Minute, MinTier: TierPlus}

	tests := []struct {
		name string
		tier TierState
		want bool
	}{
		{"below min tier", TierState{CurrentTier: TierLite}, false},
		{"at min tier", TierState{CurrentTier: TierPlus}, true},
		{"above min tier", TierState{CurrentTier: TierPro}, true},
		{"grace active", TierState{AccountCreatedAt: now.Add(-time.Hour), GraceDuration: 2 * time.Hour}, true},
		{"grace boundary", TierState{AccountCreatedAt: now.Add(-2 * time.Hour), GraceDuration: 2 * time.Hour}, false},
		{"no grace configured", TierState{AccountCreatedAt: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Bypasses(policy, tt.tier, now); got != tt.want {
				t.Errorf("Bypasses = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLimitPolicy_Validate(t *testing.T) {
	if err := (LimitPolicy{Limit: 0}).Validate(); err != nil {
		t.Errorf("tier-locked policy rejected: %v", err)
	}
	if err := (LimitPolicy{Limit: 1, CooldownDuration: -time.Second}).Validate(); err == nil {
		t.Error("negative cooldown accepted")
	}
	if err := (LimitPolicy{Limit: 1, MinTier: Tier(7)}).Validate(); err == nil {
		t.Error("unknown tier accepted")
	}
}
