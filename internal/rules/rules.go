// Package rules computes final marketplace prices and stock levels from raw
// channel values and per-shop rule sets.
package rules

import "math"

// PriceSource selects which price the rule set is applied to.
type PriceSource string

const (
	// SourceChannel applies rules to the price reported by the upstream channel.
	SourceChannel PriceSource = "channel"
	// SourceLocal applies rules to the locally computed price (original + shipping).
	SourceLocal PriceSource = "local"
)

// Tier is a price range with an associated multiplier and adjustment.
// MinPrice is inclusive; MaxPrice is exclusive, nil meaning unbounded.
type Tier struct {
	MinPrice   float64  `json:"minPrice"`
	MaxPrice   *float64 `json:"maxPrice"`
	Multiplier float64  `json:"multiplier"`
	Adjustment float64  `json:"adjustment"`
}

// Contains reports whether p falls into the tier's [MinPrice, MaxPrice) range.
func (t Tier) Contains(p float64) bool {
	if p < t.MinPrice {
		return false
	}
	return t.MaxPrice == nil || p < *t.MaxPrice
}

// PriceRuleSet holds the tiered price transformation for one shop.
// Tiers are evaluated in list order; the first tier containing the input
// price wins, so overlapping ranges are resolved by position alone.
type PriceRuleSet struct {
	Enabled           bool        `json:"enabled"`
	Source            PriceSource `json:"source"`
	Tiers             []Tier      `json:"tiers"`
	DefaultMultiplier float64     `json:"defaultMultiplier"`
	DefaultAdjustment float64     `json:"defaultAdjustment"`
}

// StockRuleSet holds the stock transformation for one shop.
// MaxStock nil means unbounded.
type StockRuleSet struct {
	Enabled    bool    `json:"enabled"`
	Multiplier float64 `json:"multiplier"`
	Adjustment float64 `json:"adjustment"`
	MinStock   int     `json:"minStock"`
	MaxStock   *int    `json:"maxStock"`
}

// Basis selects the price the rule set applies to, per its Source field.
// Channel-sourced rule sets see the price reported by the upstream channel;
// anything else sees the locally computed price (shipping and discount
// already applied), which is also the default for an unset Source.
func (rs PriceRuleSet) Basis(channelPrice, localPrice float64) float64 {
	if rs.Source == SourceChannel {
		return channelPrice
	}
	return localPrice
}

// ComputeFinalPrice computes the price pushed to the marketplace.
// Disabled rule sets pass the raw price through unchanged. Otherwise the
// first matching tier's multiplier/adjustment applies, falling back to the
// defaults when no tier matches. Negative prices go through the same formula.
func ComputeFinalPrice(rawPrice float64, rs PriceRuleSet) float64 {
	if !rs.Enabled {
		return rawPrice
	}
	for _, tier := range rs.Tiers {
		if tier.Contains(rawPrice) {
			return round2(rawPrice*tier.Multiplier + tier.Adjustment)
		}
	}
	return round2(rawPrice*rs.DefaultMultiplier + rs.DefaultAdjustment)
}

// ComputeFinalStock computes the stock level pushed to the marketplace.
// Disabled rule sets pass the raw stock through unchanged. Otherwise the
// result is floor(raw*multiplier+adjustment) clamped to
// [MinStock, MaxStock or +inf] and never below zero, whatever the bounds.
func ComputeFinalStock(rawStock int, rs StockRuleSet) int {
	if !rs.Enabled {
		return rawStock
	}

	stock := int(math.Floor(float64(rawStock)*rs.Multiplier + rs.Adjustment))

	if stock < rs.MinStock {
		stock = rs.MinStock
	}
	if rs.MaxStock != nil && stock > *rs.MaxStock {
		stock = *rs.MaxStock
	}
	if stock < 0 {
		stock = 0
	}
	return stock
}

// round2 rounds to 2 decimal places, half-up (ties go toward +inf).
// math.Round is half-away-from-zero, which differs for negative inputs.
func round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
