package pricing

// DiscountSource identifies which discount won arbitration.
type DiscountSource string

const (
	// SourceNone means no discount applied.
	SourceNone DiscountSource = ""
	// SourceTier means the automatic spend tier won.
	SourceTier DiscountSource = "tier"
	// SourceCode means an explicit promo code won.
	SourceCode DiscountSource = "code"
)

// Discount is the arbitration outcome. When the tier wins, Code stays empty
// even if a code was attached: reporting a code the shopper did not actually
// benefit from would both mislead the UI and double-count a later redemption.
type Discount struct {
	Source    DiscountSource
	Amount    Money
	Code      string
	TierLabel string
}

// Choose picks the single applicable discount: the numerically larger of the
// tier amount and the code amount, never both. On an exact tie the code wins,
// since it came from explicit shopper action. Both amounts must have been
// computed against the same subtotal.
func Choose(tierAmount Money, tierLabel string, codeAmount Money, code string) Discount {
	if tierAmount < 0 {
		tierAmount = 0
	}
	if codeAmount < 0 {
		codeAmount = 0
	}
	if codeAmount == 0 && tierAmount == 0 {
		return Discount{Source: SourceNone}
	}
	if codeAmount >= tierAmount {
		return Discount{Source: SourceCode, Amount: codeAmount, Code: code}
	}
	return Discount{Source: SourceTier, Amount: tierAmount, TierLabel: tierLabel}
}
