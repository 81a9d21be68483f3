package domain

import (
	"fmt"
	"strings"
)

// Tier is the account classification that drives quotas and feature access.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	TierAdmin   Tier = "admin"
)

// Unlimited marks a tier without an active link ceiling.
const Unlimited int64 = -1

// Feature names a tier-gated capability.
type Feature string

const (
	FeatureCustomAliases     Feature = "custom_aliases"
	FeatureAdvancedAnalytics Feature = "advanced_analytics"
)

// ParseTier accepts tier names case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// Rank orders tiers: free < premium < admin. Unknown tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierPremium:
		return 1
	case TierAdmin:
		return 2
	default:
		return -1
	}
}

// TierPolicy is one row of the policy table.
type TierPolicy struct {
	MaxActiveLinks    int64 `json:"max_active_links"`
	CustomAliases     bool  `json:"custom_aliases"`
	AdvancedAnalytics bool  `json:"advanced_analytics"`
}

// IsUnlimited reports whether the tier has no active link ceiling.
func (p TierPolicy) IsUnlimited() bool {
	return p.MaxActiveLinks < 0
}

// HasFeature reports whether the policy grants f.
func (p TierPolicy) HasFeature(f Feature) bool {
	switch f {
	case FeatureCustomAliases:
		return p.CustomAliases
	case FeatureAdvancedAnalytics:
		return p.AdvancedAnalytics
	default:
		return false
	}
}

// Policies maps every tier to its policy.
type Policies map[Tier]TierPolicy

// NewPolicies builds the policy table with the given ceilings for free and premium.
// Admin is always unlimited.
func NewPolicies(freeMax, premiumMax int64) Policies {
	return Policies{
		TierFree: {
			MaxActiveLinks:    freeMax,
			CustomAliases:     false,
			AdvancedAnalytics: false,
		},
		TierPremium: {
			MaxActiveLinks:    premiumMax,
			CustomAliases:     true,
			AdvancedAnalytics: true,
		},
		TierAdmin: {
			MaxActiveLinks:    Unlimited,
			CustomAliases:     true,
			AdvancedAnalytics: true,
		},
	}
}

// DefaultPolicies returns the stock table: 10 links for free, unlimited otherwise.
func DefaultPolicies() Policies {
	return NewPolicies(10, Unlimited)
}

// For returns the policy of t. Unknown tiers get the free policy.
func (p Policies) For(t Tier) TierPolicy {
	if policy, ok := p[t]; ok {
		return policy
	}
	return p[TierFree]
}
