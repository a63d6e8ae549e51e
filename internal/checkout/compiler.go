package checkout

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/harborlane/storefront-api/internal/cart"
	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/delivery"
	"github.com/harborlane/storefront-api/internal/obs"
	"github.com/harborlane/storefront-api/internal/pricing"
	"github.com/harborlane/storefront-api/internal/promo"
)

// Input carries everything the compiler needs besides the cart itself. The
// promo attachment is just the code string: the discount amount is always
// recomputed server-side, never read from the client.
type Input struct {
	Owner       common.Identity
	Fulfillment delivery.Fulfillment
	PromoCode   string
	Quote       *delivery.Quote
	Dropoff     *delivery.Coord
}

// Snapshot is the single source of truth for what to display and what to
// charge. All amounts are integer cents; Cents must equal the amount the
// payment processor captures, to the cent.
type Snapshot struct {
	Subtotal       pricing.Money
	DiscountSource pricing.DiscountSource
	DiscountCode   string
	TierLabel      string
	DiscountAmount pricing.Money
	NextTier       *pricing.NextTier
	DeliveryFee    delivery.Fee
	Tax            pricing.Money
	Total          pricing.Money
	Cents          int64
	Lines          []cart.Line
}

// Compiler turns the owner's live cart into a Snapshot. It reads the cart
// fresh on every call and mutates nothing, so calling it twice with the same
// cart, code and quote yields identical snapshots. That is the property the
// whole checkout leans on: the preview shown before payment and the
// recomputation at charge confirmation must agree to the cent.
type Compiler struct {
	Cart   cart.Source
	Promo  *promo.Service
	Tiers  pricing.TierTable
	Fees   *delivery.Estimator
	TaxBps int
	Logger zerolog.Logger
}

// Compile runs the totals chain. Promo rejection degrades to tier-only
// pricing; only infrastructure failures (cart or promo store unreachable)
// propagate.
func (c *Compiler) Compile(ctx context.Context, in Input) (Snapshot, error) {
	if c == nil || c.Cart == nil {
		return Snapshot{}, errors.New("totals compiler not configured")
	}
	lines, err := c.Cart.Lines(ctx, in.Owner)
	if err != nil {
		return Snapshot{}, err
	}
	if len(lines) == 0 {
		return Snapshot{DeliveryFee: delivery.Pending()}, nil
	}

	var subtotal pricing.Money
	for _, l := range lines {
		subtotal += l.UnitPrice * pricing.Money(l.Qty)
	}

	tier := c.Tiers.Resolve(subtotal)
	tierDiscount := pricing.ApplyBps(subtotal, tier.PercentBps)

	var codeDiscount pricing.Money
	var code string
	if in.PromoCode != "" {
		applied, err := c.Promo.Preview(ctx, in.PromoCode, in.Owner, subtotal)
		switch {
		case err == nil:
			codeDiscount = applied.Discount
			code = applied.Code
		case errors.Is(err, promo.ErrNotApplicable):
			// Invalid code never blocks pricing; the tier ladder still applies.
			c.Logger.Debug().Str("code", in.PromoCode).Msg("promo_not_applied")
		default:
			return Snapshot{}, err
		}
	}

	chosen := pricing.Choose(tierDiscount, tier.Label, codeDiscount, code)

	discounted := subtotal - chosen.Amount
	if discounted < 0 {
		discounted = 0
	}

	// The free-delivery check inside the estimator runs against the original
	// subtotal: a discount cannot pull an order back under a threshold it met.
	fee := c.Fees.ForTotals(in.Fulfillment, subtotal, in.Quote, in.Dropoff)

	taxBase := discounted + fee.Amount
	tax := pricing.ApplyBps(taxBase, c.TaxBps)
	total := discounted + fee.Amount + tax

	snap := Snapshot{
		Subtotal:       subtotal,
		DiscountSource: chosen.Source,
		DiscountCode:   chosen.Code,
		TierLabel:      chosen.TierLabel,
		DiscountAmount: chosen.Amount,
		NextTier:       tier.Next,
		DeliveryFee:    fee,
		Tax:            tax,
		Total:          total,
		Cents:          int64(total),
		Lines:          lines,
	}
	if obs.TotalsComputedTotal != nil {
		obs.TotalsComputedTotal.WithLabelValues(string(in.Fulfillment), sourceLabel(chosen.Source)).Inc()
	}
	return snap, nil
}

func sourceLabel(s pricing.DiscountSource) string {
	if s == pricing.SourceNone {
		return "none"
	}
	return string(s)
}
