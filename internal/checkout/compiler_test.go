package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/harborlane/storefront-api/internal/cart"
	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/delivery"
	"github.com/harborlane/storefront-api/internal/pricing"
	"github.com/harborlane/storefront-api/internal/promo"
)

type fakeCart struct {
	lines []cart.Line
	err   error
}

func (f fakeCart) Lines(context.Context, common.Identity) ([]cart.Line, error) {
	return f.lines, f.err
}

type fakePromoStore struct {
	codes    map[string]promo.Code
	redeemed map[uuid.UUID]bool
}

func (f fakePromoStore) GetByCode(_ context.Context, code string) (promo.Code, error) {
	c, ok := f.codes[code]
	if !ok {
		return promo.Code{}, promo.ErrCodeNotFound
	}
	return c, nil
}

func (f fakePromoStore) HasRedemption(_ context.Context, codeID uuid.UUID, _ common.Identity) (bool, error) {
	return f.redeemed[codeID], nil
}

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func cartOf(cents ...pricing.Money) fakeCart {
	var lines []cart.Line
	for _, c := range cents {
		lines = append(lines, cart.Line{
			ProductID: uuid.New(),
			Title:     "item",
			UnitPrice: c,
			Qty:       1,
		})
	}
	return fakeCart{lines: lines}
}

func newCompiler(src cart.Source, store promo.Store) *Compiler {
	return &Compiler{
		Cart:   src,
		Promo:  &promo.Service{Store: store, Now: func() time.Time { return testNow }, Logger: zerolog.Nop()},
		Tiers:  pricing.DefaultTierTable(),
		Fees:   &delivery.Estimator{Tiers: pricing.DefaultTierTable(), Now: func() time.Time { return testNow }, Logger: zerolog.Nop()},
		TaxBps: 700,
		Logger: zerolog.Nop(),
	}
}

func TestCompileEmptyCartIsAllZero(t *testing.T) {
	c := newCompiler(fakeCart{}, fakePromoStore{})
	snap, err := c.Compile(context.Background(), Input{Fulfillment: delivery.FulfillmentPickup})
	require.NoError(t, err)
	require.Zero(t, snap.Subtotal)
	require.Zero(t, snap.DiscountAmount)
	require.Zero(t, snap.Tax)
	require.Zero(t, snap.Total)
	require.Zero(t, snap.Cents)
	require.Equal(t, pricing.SourceNone, snap.DiscountSource)
}

func TestCompileTierDiscountDeliveryNoQuote(t *testing.T) {
	// $80 cart, no promo, delivery with no quote yet: 8% tier, zero fee
	// placeholder, 7% tax on the discounted subtotal.
	c := newCompiler(cartOf(8000), fakePromoStore{})
	snap, err := c.Compile(context.Background(), Input{Fulfillment: delivery.FulfillmentDelivery})
	require.NoError(t, err)

	require.EqualValues(t, 8000, snap.Subtotal)
	require.Equal(t, pricing.SourceTier, snap.DiscountSource)
	require.Equal(t, "8% OFF orders $75+", snap.TierLabel)
	require.EqualValues(t, 640, snap.DiscountAmount)
	require.Equal(t, delivery.FeePending, snap.DeliveryFee.Kind)
	require.EqualValues(t, 0, snap.DeliveryFee.Amount)
	require.EqualValues(t, 515, snap.Tax)
	require.EqualValues(t, 7875, snap.Total)
	require.EqualValues(t, 7875, snap.Cents)
}

func TestCompileFreeDeliveryZeroPercentTier(t *testing.T) {
	// $120 cart: the top ladder row carries no percent, the perk is the
	// waived delivery fee. Tax runs on the full subtotal.
	c := newCompiler(cartOf(12000), fakePromoStore{})
	snap, err := c.Compile(context.Background(), Input{Fulfillment: delivery.FulfillmentDelivery})
	require.NoError(t, err)

	require.Equal(t, pricing.SourceNone, snap.DiscountSource)
	require.EqualValues(t, 0, snap.DiscountAmount)
	require.Equal(t, delivery.FeeWaived, snap.DeliveryFee.Kind)
	require.EqualValues(t, 840, snap.Tax)
	require.EqualValues(t, 12840, snap.Cents)
}

func TestCompilePromoBeatsZeroTierOnSmallCart(t *testing.T) {
	// $15.99 cart is below every tier; an 18% code wins arbitration.
	codeID := uuid.New()
	store := fakePromoStore{codes: map[string]promo.Code{
		"SPRING18": {ID: codeID, Code: "SPRING18", Kind: promo.KindPercent, PercentBps: 1800, Active: true},
	}}
	c := newCompiler(cartOf(1599), store)
	snap, err := c.Compile(context.Background(), Input{
		Fulfillment: delivery.FulfillmentPickup,
		PromoCode:   "SPRING18",
	})
	require.NoError(t, err)

	require.Equal(t, pricing.SourceCode, snap.DiscountSource)
	require.Equal(t, "SPRING18", snap.DiscountCode)
	require.EqualValues(t, 288, snap.DiscountAmount)
	require.Equal(t, delivery.FeeWaived, snap.DeliveryFee.Kind)
	require.EqualValues(t, 92, snap.Tax)
	require.EqualValues(t, 1403, snap.Cents)
}

func TestCompileExpiredCodeDegradesToTier(t *testing.T) {
	past := testNow.Add(-time.Hour)
	codeID := uuid.New()
	store := fakePromoStore{codes: map[string]promo.Code{
		"OLD": {ID: codeID, Code: "OLD", Kind: promo.KindPercent, PercentBps: 5000, Active: true, EndsAt: &past},
	}}
	c := newCompiler(cartOf(8000), store)
	snap, err := c.Compile(context.Background(), Input{
		Fulfillment: delivery.FulfillmentPickup,
		PromoCode:   "OLD",
	})
	require.NoError(t, err)

	require.Equal(t, pricing.SourceTier, snap.DiscountSource)
	require.Empty(t, snap.DiscountCode, "a rejected code must not be attributed")
	require.EqualValues(t, 640, snap.DiscountAmount)
}

func TestCompileNoStacking(t *testing.T) {
	// Both the 8% tier and a 10% code qualify on an $80 cart: exactly one is
	// applied, and it is the larger.
	codeID := uuid.New()
	store := fakePromoStore{codes: map[string]promo.Code{
		"TEN": {ID: codeID, Code: "TEN", Kind: promo.KindPercent, PercentBps: 1000, Active: true},
	}}
	c := newCompiler(cartOf(8000), store)
	snap, err := c.Compile(context.Background(), Input{
		Fulfillment: delivery.FulfillmentPickup,
		PromoCode:   "TEN",
	})
	require.NoError(t, err)

	require.Equal(t, pricing.SourceCode, snap.DiscountSource)
	require.EqualValues(t, 800, snap.DiscountAmount, "max(640, 800), never the sum")
}

func TestCompileTierWinDoesNotAttributeCode(t *testing.T) {
	// A tiny fixed code loses to the tier; the snapshot must not mention it.
	codeID := uuid.New()
	store := fakePromoStore{codes: map[string]promo.Code{
		"BUCK": {ID: codeID, Code: "BUCK", Kind: promo.KindFixed, AmountCents: 100, Active: true},
	}}
	c := newCompiler(cartOf(8000), store)
	snap, err := c.Compile(context.Background(), Input{
		Fulfillment: delivery.FulfillmentPickup,
		PromoCode:   "BUCK",
	})
	require.NoError(t, err)

	require.Equal(t, pricing.SourceTier, snap.DiscountSource)
	require.Empty(t, snap.DiscountCode)
	require.EqualValues(t, 640, snap.DiscountAmount)
}

func TestCompileIdempotent(t *testing.T) {
	codeID := uuid.New()
	store := fakePromoStore{codes: map[string]promo.Code{
		"SPRING18": {ID: codeID, Code: "SPRING18", Kind: promo.KindPercent, PercentBps: 1800, Active: true},
	}}
	c := newCompiler(cartOf(1599, 4200), store)
	in := Input{Fulfillment: delivery.FulfillmentDelivery, PromoCode: "SPRING18"}

	first, err := c.Compile(context.Background(), in)
	require.NoError(t, err)
	second, err := c.Compile(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCompileFreeDeliveryUsesOriginalSubtotal(t *testing.T) {
	// A $105 cart with a big fixed code still gets free delivery even though
	// the discounted subtotal falls under $100.
	codeID := uuid.New()
	store := fakePromoStore{codes: map[string]promo.Code{
		"BIG": {ID: codeID, Code: "BIG", Kind: promo.KindFixed, AmountCents: 2000, Active: true},
	}}
	c := newCompiler(cartOf(10500), store)
	snap, err := c.Compile(context.Background(), Input{
		Fulfillment: delivery.FulfillmentDelivery,
		PromoCode:   "BIG",
	})
	require.NoError(t, err)

	require.Equal(t, pricing.SourceCode, snap.DiscountSource)
	require.EqualValues(t, 2000, snap.DiscountAmount)
	require.Equal(t, delivery.FeeWaived, snap.DeliveryFee.Kind)
}

func TestCompileCarrierQuoteUsedVerbatim(t *testing.T) {
	quote := &delivery.Quote{
		ID:        "q_1",
		FeeCents:  425,
		ExpiresAt: testNow.Add(10 * time.Minute),
		Dropoff:   delivery.Coord{Lat: 40.01, Lng: -75.2},
	}
	c := newCompiler(cartOf(8000), fakePromoStore{})
	snap, err := c.Compile(context.Background(), Input{
		Fulfillment: delivery.FulfillmentDelivery,
		Quote:       quote,
		Dropoff:     &delivery.Coord{Lat: 40.01, Lng: -75.2},
	})
	require.NoError(t, err)

	require.Equal(t, delivery.FeeCarrier, snap.DeliveryFee.Kind)
	require.EqualValues(t, 425, snap.DeliveryFee.Amount)
	// tax on 7360 + 425 = 7785 at 7%
	require.EqualValues(t, 545, snap.Tax)
	require.EqualValues(t, 7360+425+545, snap.Cents)
}

func TestCompileStaleQuoteIgnored(t *testing.T) {
	quote := &delivery.Quote{
		ID:        "q_old",
		FeeCents:  425,
		ExpiresAt: testNow.Add(-time.Minute),
		Dropoff:   delivery.Coord{Lat: 40.01, Lng: -75.2},
	}
	c := newCompiler(cartOf(8000), fakePromoStore{})
	snap, err := c.Compile(context.Background(), Input{
		Fulfillment: delivery.FulfillmentDelivery,
		Quote:       quote,
	})
	require.NoError(t, err)
	require.Equal(t, delivery.FeePending, snap.DeliveryFee.Kind)
}

func TestCompileCartErrorPropagates(t *testing.T) {
	c := newCompiler(fakeCart{err: context.DeadlineExceeded}, fakePromoStore{})
	_, err := c.Compile(context.Background(), Input{Fulfillment: delivery.FulfillmentPickup})
	require.Error(t, err)
}
