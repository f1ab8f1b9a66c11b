package license

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	assert.Equal(t, TierPro, ParseTier("pro"))
	assert.Equal(t, TierWhiteLabel, ParseTier("white_label"))

	// Unknown and malformed values collapse to free.
	assert.Equal(t, TierFree, ParseTier("platinum"))
	assert.Equal(t, TierFree, ParseTier(""))
	assert.Equal(t, TierFree, ParseTier("PRO"))
}

func TestDowngradeChain(t *testing.T) {
	assert.Equal(t, TierEnterprise, Downgrade(TierWhiteLabel))
	assert.Equal(t, TierLifetime, Downgrade(TierEnterprise))
	assert.Equal(t, TierElite, Downgrade(TierLifetime))
	assert.Equal(t, TierPro, Downgrade(TierElite))
	assert.Equal(t, TierFree, Downgrade(TierPro))

	// Free is a fixed point, unknown tiers collapse to free.
	assert.Equal(t, TierFree, Downgrade(TierFree))
	assert.Equal(t, TierFree, Downgrade(Tier("bogus")))
}

func TestPerpetual(t *testing.T) {
	assert.False(t, TierFree.Perpetual())
	assert.False(t, TierPro.Perpetual())
	assert.False(t, TierElite.Perpetual())
	assert.True(t, TierLifetime.Perpetual())
	assert.True(t, TierEnterprise.Perpetual())
	assert.True(t, TierWhiteLabel.Perpetual())
}

func TestFeaturesOf(t *testing.T) {
	pro := FeaturesOf(TierPro)
	assert.Equal(t, "Pro", pro.Name)
	assert.True(t, pro.Price.Equal(decimal.NewFromInt(99)))
	assert.Equal(t, 5, pro.MaxAgents)
	assert.Contains(t, pro.Strategies, "momentum")

	elite := FeaturesOf(TierElite)
	assert.True(t, elite.AllStrategies)
	assert.Equal(t, Unlimited, elite.MaxAgents)

	// Unknown tier resolves to the free definition rather than erroring.
	unknown := FeaturesOf(Tier("bogus"))
	assert.Equal(t, TierFree, unknown.Tier)
}

func TestCanAccessStrategy(t *testing.T) {
	assert.True(t, CanAccessStrategy(TierFree, "dca_basic"))
	assert.False(t, CanAccessStrategy(TierFree, "momentum"))
	assert.True(t, CanAccessStrategy(TierPro, "momentum"))
	assert.False(t, CanAccessStrategy(TierPro, "custom_ml"))

	// The wildcard grants everything, including strategies no tier
	// lists explicitly.
	assert.True(t, CanAccessStrategy(TierElite, "custom_ml"))
	assert.True(t, CanAccessStrategy(TierLifetime, "momentum"))
}

func TestAllTiersOrder(t *testing.T) {
	tiers := AllTiers()
	require.Len(t, tiers, 6)
	assert.Equal(t, TierFree, tiers[0])
	assert.Equal(t, TierWhiteLabel, tiers[5])

	// Returned slice is a copy; mutating it must not corrupt the order.
	tiers[0] = TierElite
	assert.Equal(t, TierFree, AllTiers()[0])
}
