package ratelimit

import (
	"strings"
	"time"
)

// AccessTier is the API access level a vendor is provisioned with.
type AccessTier string

const (
	TierPrivacySafe AccessTier = "PRIVACY_SAFE"
	TierStarter     AccessTier = "STARTER"
	TierGrowth      AccessTier = "GROWTH"
	TierScale       AccessTier = "SCALE"
	TierEnterprise  AccessTier = "ENTERPRISE"
)

// TierPolicy is the request budget for one tier.
type TierPolicy struct {
	Tier   AccessTier    `json:"tier"`
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// TierTable maps tiers to their request budget. Lookups of unknown tiers
// resolve to the most restrictive entry.
type TierTable struct {
	policies    map[AccessTier]TierPolicy
	restrictive TierPolicy
}

// tierOrder runs from least to most generous. Ties on the most restrictive
// limit resolve to the earliest tier so every instance keys unknown tiers alike.
var tierOrder = []AccessTier{TierPrivacySafe, TierStarter, TierGrowth, TierScale, TierEnterprise}

// DefaultLimits are requests per window for each tier.
var DefaultLimits = map[AccessTier]int{
	TierPrivacySafe: 20,
	TierStarter:     60,
	TierGrowth:      300,
	TierScale:       600,
	TierEnterprise:  1200,
}

// NewTierTable builds a table from per-tier limits sharing one window length.
// overrides replaces individual defaults; keys are tier names.
func NewTierTable(window time.Duration, overrides map[string]int) *TierTable {
	if window <= 0 {
		window = time.Minute
	}

	t := &TierTable{policies: make(map[AccessTier]TierPolicy, len(DefaultLimits))}
	for tier, limit := range DefaultLimits {
		if v, ok := overrides[string(tier)]; ok && v > 0 {
			limit = v
		}
		t.policies[tier] = TierPolicy{Tier: tier, Limit: limit, Window: window}
	}

	for i, tier := range tierOrder {
		if p := t.policies[tier]; i == 0 || p.Limit < t.restrictive.Limit {
			t.restrictive = p
		}
	}
	return t
}

// Resolve returns the policy for tier and whether the tier was recognised.
func (t *TierTable) Resolve(tier AccessTier) (TierPolicy, bool) {
	p, ok := t.policies[AccessTier(strings.ToUpper(string(tier)))]
	if !ok {
		return t.restrictive, false
	}
	return p, true
}
