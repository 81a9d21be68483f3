package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{in: "free", want: TierFree},
		{in: " Premium ", want: TierPremium},
		{in: "ADMIN", want: TierAdmin},
		{in: "enterprise", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTier(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTierRankIsOrdered(t *testing.T) {
	assert.Less(t, TierFree.Rank(), TierPremium.Rank())
	assert.Less(t, TierPremium.Rank(), TierAdmin.Rank())
	assert.Equal(t, -1, Tier("gold").Rank())
}

func TestPolicies(t *testing.T) {
	p := NewPolicies(10, 500)

	free := p.For(TierFree)
	assert.Equal(t, int64(10), free.MaxActiveLinks)
	assert.False(t, free.IsUnlimited())
	assert.False(t, free.HasFeature(FeatureCustomAliases))
	assert.False(t, free.HasFeature(FeatureAdvancedAnalytics))

	premium := p.For(TierPremium)
	assert.Equal(t, int64(500), premium.MaxActiveLinks)
	assert.True(t, premium.HasFeature(FeatureCustomAliases))
	assert.True(t, premium.HasFeature(FeatureAdvancedAnalytics))

	admin := p.For(TierAdmin)
	assert.True(t, admin.IsUnlimited())
	assert.True(t, admin.HasFeature(FeatureCustomAliases))

	// unknown tiers fall back to the most restrictive row
	assert.Equal(t, free, p.For(Tier("gold")))
	assert.False(t, admin.HasFeature(Feature("password_protected_links")))
}

func TestLinkResolvable(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		link Link
		want bool
	}{
		{name: "active without expiry", link: Link{IsActive: true}, want: true},
		{name: "active with future expiry", link: Link{IsActive: true, ExpiresAt: &future}, want: true},
		{name: "active but expired", link: Link{IsActive: true, ExpiresAt: &past}, want: false},
		{name: "expires exactly now", link: Link{IsActive: true, ExpiresAt: &now}, want: false},
		{name: "inactive", link: Link{IsActive: false}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.link.Resolvable(now))
		})
	}
}
