package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

func TestPriceRuleBasisSelectsInput(t *testing.T) {
	assert.Equal(t, 20.0, PriceRuleSet{Source: SourceChannel}.Basis(20, 25))
	assert.Equal(t, 25.0, PriceRuleSet{Source: SourceLocal}.Basis(20, 25))
	// Unset source defaults to the local price.
	assert.Equal(t, 25.0, PriceRuleSet{}.Basis(20, 25))
}

func TestComputeFinalPriceDisabled(t *testing.T) {
	rs := PriceRuleSet{
		Enabled:           false,
		Tiers:             []Tier{{MinPrice: 0, MaxPrice: fp(100), Multiplier: 2, Adjustment: 5}},
		DefaultMultiplier: 3,
	}

	assert.Equal(t, 45.0, ComputeFinalPrice(45.0, rs))
	assert.Equal(t, -10.0, ComputeFinalPrice(-10.0, rs))
}

func TestComputeFinalPriceTierMatch(t *testing.T) {
	rs := PriceRuleSet{
		Enabled:           true,
		Tiers:             []Tier{{MinPrice: 0, MaxPrice: fp(50), Multiplier: 1.2, Adjustment: 0}},
		DefaultMultiplier: 1.0,
		DefaultAdjustment: 0,
	}

	// Price 45.00 with tier [0,50) x1.2 -> 54.00
	assert.Equal(t, 54.0, ComputeFinalPrice(45.0, rs))

	// Price 60.00 falls through to the default -> 60.00
	assert.Equal(t, 60.0, ComputeFinalPrice(60.0, rs))
}

func TestComputeFinalPriceBoundaries(t *testing.T) {
	rs := PriceRuleSet{
		Enabled: true,
		Tiers: []Tier{
			{MinPrice: 0, MaxPrice: fp(50), Multiplier: 2, Adjustment: 0},
			{MinPrice: 50, MaxPrice: fp(100), Multiplier: 3, Adjustment: 0},
		},
		DefaultMultiplier: 1,
	}

	// MinPrice is inclusive, MaxPrice exclusive: 50 belongs to the second tier only.
	assert.Equal(t, 100.0, ComputeFinalPrice(50.0, rs))
	assert.Equal(t, 99.98, ComputeFinalPrice(49.99, rs))
	assert.Equal(t, 100.0, ComputeFinalPrice(100.0, rs)) // past both tiers -> default
}

func TestComputeFinalPriceFirstMatchingTierWins(t *testing.T) {
	a := Tier{MinPrice: 0, MaxPrice: fp(100), Multiplier: 2, Adjustment: 0}
	b := Tier{MinPrice: 0, MaxPrice: fp(100), Multiplier: 3, Adjustment: 0}

	forward := PriceRuleSet{Enabled: true, Tiers: []Tier{a, b}, DefaultMultiplier: 1}
	reversed := PriceRuleSet{Enabled: true, Tiers: []Tier{b, a}, DefaultMultiplier: 1}

	// Overlapping ranges resolve by list order, so reordering changes the result.
	assert.Equal(t, 20.0, ComputeFinalPrice(10.0, forward))
	assert.Equal(t, 30.0, ComputeFinalPrice(10.0, reversed))
}

func TestComputeFinalPriceUnboundedTier(t *testing.T) {
	rs := PriceRuleSet{
		Enabled: true,
		Tiers: []Tier{
			{MinPrice: 100, MaxPrice: nil, Multiplier: 1.5, Adjustment: 10},
		},
		DefaultMultiplier: 1,
	}

	assert.Equal(t, 1510.0, ComputeFinalPrice(1000.0, rs))
	assert.Equal(t, 99.0, ComputeFinalPrice(99.0, rs)) // below tier -> default
}

func TestComputeFinalPriceRounding(t *testing.T) {
	rs := PriceRuleSet{
		Enabled:           true,
		DefaultMultiplier: 1.0 / 3.0,
		DefaultAdjustment: 0,
	}

	// 10 / 3 = 3.333... -> 3.33
	assert.Equal(t, 3.33, ComputeFinalPrice(10.0, rs))

	// Half-up on an exactly representable tie: 6.25 * 0.5 = 3.125 -> 3.13.
	tie := PriceRuleSet{Enabled: true, DefaultMultiplier: 0.5}
	assert.Equal(t, 3.13, ComputeFinalPrice(6.25, tie))

	// Half-up for a negative tie rounds toward +inf: -3.125 -> -3.12.
	assert.Equal(t, -3.12, ComputeFinalPrice(-6.25, tie))
}

func TestComputeFinalPriceNegativePassesThroughFormula(t *testing.T) {
	rs := PriceRuleSet{
		Enabled:           true,
		Tiers:             []Tier{{MinPrice: 0, MaxPrice: fp(50), Multiplier: 2, Adjustment: 0}},
		DefaultMultiplier: 2,
		DefaultAdjustment: 1,
	}

	// -10 matches no tier (min 0 inclusive), so the default formula applies.
	assert.Equal(t, -19.0, ComputeFinalPrice(-10.0, rs))
}

func TestComputeFinalStockDisabled(t *testing.T) {
	rs := StockRuleSet{Enabled: false, Multiplier: 0.5, Adjustment: -2}
	assert.Equal(t, 10, ComputeFinalStock(10, rs))
}

func TestComputeFinalStockFormula(t *testing.T) {
	// raw 10, x0.5, -2, min 0 -> floor(10*0.5-2) = 3
	rs := StockRuleSet{Enabled: true, Multiplier: 0.5, Adjustment: -2, MinStock: 0}
	assert.Equal(t, 3, ComputeFinalStock(10, rs))

	// floor applies: 7*0.5 = 3.5 -> 3
	rs = StockRuleSet{Enabled: true, Multiplier: 0.5, MinStock: 0}
	assert.Equal(t, 3, ComputeFinalStock(7, rs))
}

func TestComputeFinalStockClamping(t *testing.T) {
	rs := StockRuleSet{Enabled: true, Multiplier: 1, Adjustment: 0, MinStock: 5, MaxStock: ip(20)}

	assert.Equal(t, 5, ComputeFinalStock(1, rs))   // below min
	assert.Equal(t, 20, ComputeFinalStock(50, rs)) // above max
	assert.Equal(t, 10, ComputeFinalStock(10, rs)) // in range
}

func TestComputeFinalStockNeverNegative(t *testing.T) {
	cases := []StockRuleSet{
		{Enabled: true, Multiplier: 1, Adjustment: -100, MinStock: -50},
		{Enabled: true, Multiplier: -2, Adjustment: 0, MinStock: -10},
		{Enabled: true, Multiplier: 1, Adjustment: 0, MinStock: -5, MaxStock: ip(-1)},
	}

	for _, rs := range cases {
		for _, raw := range []int{0, 1, 10, 1000} {
			got := ComputeFinalStock(raw, rs)
			assert.GreaterOrEqual(t, got, 0, "multiplier=%v adjustment=%v raw=%d", rs.Multiplier, rs.Adjustment, raw)
		}
	}
}

func TestComputeFinalStockRespectsMaxStock(t *testing.T) {
	rs := StockRuleSet{Enabled: true, Multiplier: 3, Adjustment: 7, MinStock: 0, MaxStock: ip(15)}

	for _, raw := range []int{0, 1, 5, 100} {
		got := ComputeFinalStock(raw, rs)
		assert.GreaterOrEqual(t, got, 0)
		assert.LessOrEqual(t, got, 15)
	}
}
