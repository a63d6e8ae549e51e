package pricing

import "sort"

// Tier is one row of the automatic spend-discount table.
type Tier struct {
	MinSubtotal Money
	PercentBps  int
	Label       string
}

// NextTier describes the tier a shopper would unlock by spending more. Used
// purely as an upsell hint; it never affects the computed totals.
type NextTier struct {
	Gap        Money  `json:"gap"`
	PercentBps int    `json:"percentBps"`
	Label      string `json:"label"`
}

// TierResult is the resolved automatic discount for a subtotal.
type TierResult struct {
	PercentBps int
	Label      string
	Next       *NextTier
}

// TierTable holds the ordered spend tiers plus the independent free-delivery
// threshold. The two are deliberately decoupled so the percent ladder and the
// delivery waiver can be tuned separately.
type TierTable struct {
	tiers           []Tier
	freeDeliveryMin Money
}

// NewTierTable builds a table from unordered rows. Rows with non-positive
// minimums or negative rates are dropped; a zero-percent row is legal and
// acts as a label-only tier (the stock ladder uses one to announce free
// delivery at the top of the ladder).
func NewTierTable(tiers []Tier, freeDeliveryMin Money) TierTable {
	kept := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		if t.MinSubtotal <= 0 || t.PercentBps < 0 {
			continue
		}
		kept = append(kept, t)
	}
	// Highest minimum first so Resolve can return the first match.
	sort.Slice(kept, func(i, j int) bool { return kept[i].MinSubtotal > kept[j].MinSubtotal })
	return TierTable{tiers: kept, freeDeliveryMin: freeDeliveryMin}
}

// DefaultTierTable returns the stock ladder: 5% off at $50, 8% off at $75,
// and a zero-percent tier at $100 that marks the free-delivery waiver. The
// top tier carries no percent on purpose: from $100 up the perk is the waived
// delivery fee, not a bigger percentage.
func DefaultTierTable() TierTable {
	return NewTierTable([]Tier{
		{MinSubtotal: 5000, PercentBps: 500, Label: "5% OFF orders $50+"},
		{MinSubtotal: 7500, PercentBps: 800, Label: "8% OFF orders $75+"},
		{MinSubtotal: 10000, PercentBps: 0, Label: "FREE delivery on orders $100+"},
	}, 10000)
}

// Resolve maps a subtotal to its automatic tier and upsell hint. A subtotal
// below every tier yields a zero-percent result whose hint targets the lowest
// defined tier.
func (t TierTable) Resolve(subtotal Money) TierResult {
	var res TierResult
	for _, tier := range t.tiers {
		if subtotal >= tier.MinSubtotal {
			res.PercentBps = tier.PercentBps
			res.Label = tier.Label
			break
		}
	}
	// Smallest minimum strictly above the subtotal wins the hint slot.
	for i := len(t.tiers) - 1; i >= 0; i-- {
		tier := t.tiers[i]
		if tier.MinSubtotal > subtotal {
			res.Next = &NextTier{
				Gap:        tier.MinSubtotal - subtotal,
				PercentBps: tier.PercentBps,
				Label:      tier.Label,
			}
			break
		}
	}
	return res
}

// FreeDelivery reports whether the subtotal qualifies for waived delivery.
// The check always uses the pre-discount subtotal.
func (t TierTable) FreeDelivery(subtotal Money) bool {
	return t.freeDeliveryMin > 0 && subtotal >= t.freeDeliveryMin
}

// FreeDeliveryMin exposes the waiver threshold for display purposes.
func (t TierTable) FreeDeliveryMin() Money { return t.freeDeliveryMin }
