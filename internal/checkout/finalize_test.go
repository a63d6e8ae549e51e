package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/delivery"
	"github.com/harborlane/storefront-api/internal/order"
	"github.com/harborlane/storefront-api/internal/payment"
	"github.com/harborlane/storefront-api/internal/pricing"
	"github.com/harborlane/storefront-api/internal/promo"
)

type fakeProcessor struct {
	conf payment.Confirmation
	err  error
}

func (f fakeProcessor) Confirm(context.Context, string) (payment.Confirmation, error) {
	return f.conf, f.err
}

type fakeOrders struct {
	created []order.Order
	err     error
}

func (f *fakeOrders) Create(_ context.Context, o order.Order) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	f.created = append(f.created, o)
	return o.ID, nil
}

func (f *fakeOrders) FindByPaymentRef(_ context.Context, owner common.Identity, ref string) (order.Order, error) {
	for _, o := range f.created {
		if o.PaymentRef == ref && o.Owner.Key() == owner.Key() {
			return o, nil
		}
	}
	return order.Order{}, order.ErrNotFound
}

type fakeRecorder struct {
	recs []promo.Redemption
	err  error
}

func (f *fakeRecorder) Record(_ context.Context, red promo.Redemption) error {
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, red)
	return nil
}

type fakeClearer struct{ cleared bool }

func (f *fakeClearer) Clear(context.Context, common.Identity) error {
	f.cleared = true
	return nil
}

type fakeDispatcher struct {
	calls int
	err   error
}

func (f *fakeDispatcher) Dispatch(context.Context, uuid.UUID, delivery.Coord, string, string, string) (delivery.DispatchResult, error) {
	f.calls++
	return delivery.DispatchResult{DeliveryID: "d_1"}, f.err
}

func succeededCharge(cents int64) payment.Confirmation {
	return payment.Confirmation{Ref: "ch_1", Status: payment.StatusSucceeded, Amount: cents, Currency: "USD"}
}

func newFinalizer(c *Compiler, proc payment.Processor) (*Finalizer, *fakeOrders, *fakeRecorder, *fakeClearer, *fakeDispatcher) {
	orders := &fakeOrders{}
	rec := &fakeRecorder{}
	clr := &fakeClearer{}
	disp := &fakeDispatcher{}
	return &Finalizer{
		Compiler:    c,
		Payments:    proc,
		Orders:      orders,
		Redemptions: rec,
		Carts:       clr,
		Dispatcher:  disp,
		Currency:    "USD",
		Logger:      zerolog.Nop(),
	}, orders, rec, clr, disp
}

func TestFinalizeHappyPathWithPromo(t *testing.T) {
	codeID := uuid.New()
	store := fakePromoStore{codes: map[string]promo.Code{
		"SPRING18": {ID: codeID, Code: "SPRING18", Kind: promo.KindPercent, PercentBps: 1800, Active: true},
	}}
	c := newCompiler(cartOf(1599), store)
	f, orders, rec, clr, disp := newFinalizer(c, fakeProcessor{conf: succeededCharge(1403)})

	res, err := f.Finalize(context.Background(), FinalizeInput{
		Input: Input{
			Owner:       common.Identity{GuestKey: "g1"},
			Fulfillment: delivery.FulfillmentPickup,
			PromoCode:   "SPRING18",
		},
		PaymentRef: "ch_1",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, res.OrderID)

	require.Len(t, orders.created, 1)
	o := orders.created[0]
	require.EqualValues(t, 1403, o.Cents)
	require.Equal(t, string(pricing.SourceCode), o.DiscountSource)
	require.Equal(t, "SPRING18", o.DiscountCode)
	require.Len(t, o.Items, 1)

	require.Len(t, rec.recs, 1)
	require.Equal(t, "SPRING18", rec.recs[0].Code)
	require.EqualValues(t, 1599, rec.recs[0].Subtotal)
	require.EqualValues(t, 288, rec.recs[0].Discount)
	require.True(t, clr.cleared)
	require.Zero(t, disp.calls, "pickup orders never dispatch a courier")
}

func TestFinalizeAmountMismatchAborts(t *testing.T) {
	c := newCompiler(cartOf(8000), fakePromoStore{})
	f, orders, rec, clr, _ := newFinalizer(c, fakeProcessor{conf: succeededCharge(9999)})

	_, err := f.Finalize(context.Background(), FinalizeInput{
		Input:      Input{Owner: common.Identity{GuestKey: "g1"}, Fulfillment: delivery.FulfillmentPickup},
		PaymentRef: "ch_1",
	})
	require.ErrorIs(t, err, ErrAmountMismatch)
	require.Empty(t, orders.created, "mismatch must abort before any order row")
	require.Empty(t, rec.recs)
	require.False(t, clr.cleared)
}

func TestFinalizeUnsettledChargeRejected(t *testing.T) {
	c := newCompiler(cartOf(8000), fakePromoStore{})
	conf := payment.Confirmation{Ref: "ch_1", Status: payment.StatusPending, Amount: 7875}
	f, orders, _, _, _ := newFinalizer(c, fakeProcessor{conf: conf})

	_, err := f.Finalize(context.Background(), FinalizeInput{
		Input:      Input{Owner: common.Identity{GuestKey: "g1"}, Fulfillment: delivery.FulfillmentPickup},
		PaymentRef: "ch_1",
	})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "PAYMENT_NOT_SETTLED", appErr.Code)
	require.Empty(t, orders.created)
}

func TestFinalizeEmptyCartRejected(t *testing.T) {
	c := newCompiler(fakeCart{}, fakePromoStore{})
	f, orders, _, _, _ := newFinalizer(c, fakeProcessor{conf: succeededCharge(0)})

	_, err := f.Finalize(context.Background(), FinalizeInput{
		Input:      Input{Owner: common.Identity{GuestKey: "g1"}, Fulfillment: delivery.FulfillmentPickup},
		PaymentRef: "ch_1",
	})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "EMPTY_CART", appErr.Code)
	require.Empty(t, orders.created)
}

func TestFinalizeRedemptionFailureDoesNotFailOrder(t *testing.T) {
	codeID := uuid.New()
	store := fakePromoStore{codes: map[string]promo.Code{
		"SPRING18": {ID: codeID, Code: "SPRING18", Kind: promo.KindPercent, PercentBps: 1800, Active: true},
	}}
	c := newCompiler(cartOf(1599), store)
	f, orders, rec, _, _ := newFinalizer(c, fakeProcessor{conf: succeededCharge(1403)})
	rec.err = promo.ErrCapExhausted

	res, err := f.Finalize(context.Background(), FinalizeInput{
		Input: Input{
			Owner:       common.Identity{GuestKey: "g1"},
			Fulfillment: delivery.FulfillmentPickup,
			PromoCode:   "SPRING18",
		},
		PaymentRef: "ch_1",
	})
	require.NoError(t, err, "order stands even when the redemption record fails")
	require.NotEqual(t, uuid.Nil, res.OrderID)
	require.Len(t, orders.created, 1)
}

func TestFinalizeDispatchFailureDoesNotFailOrder(t *testing.T) {
	c := newCompiler(cartOf(8000), fakePromoStore{})
	f, orders, _, _, disp := newFinalizer(c, fakeProcessor{conf: succeededCharge(7875)})
	disp.err = errors.New("carrier down")

	dropoff := delivery.Coord{Lat: 40.01, Lng: -75.2}
	_, err := f.Finalize(context.Background(), FinalizeInput{
		Input: Input{
			Owner:       common.Identity{GuestKey: "g1"},
			Fulfillment: delivery.FulfillmentDelivery,
			Dropoff:     &dropoff,
		},
		PaymentRef: "ch_1",
	})
	require.NoError(t, err)
	require.Len(t, orders.created, 1)
	require.Equal(t, 1, disp.calls)
}

func TestFinalizeReplayReturnsExistingOrder(t *testing.T) {
	// A retried confirm arrives after the cart was cleared. The unique
	// payment reference must resolve to the recorded order, not EMPTY_CART
	// and not a second order row.
	codeID := uuid.New()
	store := fakePromoStore{codes: map[string]promo.Code{
		"SPRING18": {ID: codeID, Code: "SPRING18", Kind: promo.KindPercent, PercentBps: 1800, Active: true},
	}}
	c := newCompiler(cartOf(1599), store)
	f, orders, rec, _, _ := newFinalizer(c, fakeProcessor{conf: succeededCharge(1403)})

	in := FinalizeInput{
		Input: Input{
			Owner:       common.Identity{GuestKey: "g1"},
			Fulfillment: delivery.FulfillmentPickup,
			PromoCode:   "SPRING18",
		},
		PaymentRef: "ch_1",
	}
	first, err := f.Finalize(context.Background(), in)
	require.NoError(t, err)

	f.Compiler = newCompiler(fakeCart{}, store) // cart cleared by the first confirm
	second, err := f.Finalize(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first.OrderID, second.OrderID)
	require.EqualValues(t, 1403, second.Snapshot.Cents)
	require.Equal(t, "SPRING18", second.Snapshot.DiscountCode)
	require.Len(t, orders.created, 1, "replay must not create a second order")
	require.Len(t, rec.recs, 1, "replay must not re-record the redemption")
}

func TestFinalizeReplayScopedToOwner(t *testing.T) {
	c := newCompiler(cartOf(8000), fakePromoStore{})
	f, _, _, _, _ := newFinalizer(c, fakeProcessor{conf: succeededCharge(7875)})

	first, err := f.Finalize(context.Background(), FinalizeInput{
		Input:      Input{Owner: common.Identity{GuestKey: "g1"}, Fulfillment: delivery.FulfillmentPickup},
		PaymentRef: "ch_1",
	})
	require.NoError(t, err)

	// Same reference from a different owner is not a replay of g1's order.
	second, err := f.Finalize(context.Background(), FinalizeInput{
		Input:      Input{Owner: common.Identity{GuestKey: "g2"}, Fulfillment: delivery.FulfillmentPickup},
		PaymentRef: "ch_1",
	})
	require.NoError(t, err)
	require.NotEqual(t, first.OrderID, second.OrderID)
}

func TestFinalizeTierWinRecordsNoRedemption(t *testing.T) {
	// Code attached but the tier won: nothing to redeem.
	codeID := uuid.New()
	store := fakePromoStore{codes: map[string]promo.Code{
		"BUCK": {ID: codeID, Code: "BUCK", Kind: promo.KindFixed, AmountCents: 100, Active: true},
	}}
	c := newCompiler(cartOf(8000), store)
	f, orders, rec, _, _ := newFinalizer(c, fakeProcessor{conf: succeededCharge(7875)})

	_, err := f.Finalize(context.Background(), FinalizeInput{
		Input: Input{
			Owner:       common.Identity{GuestKey: "g1"},
			Fulfillment: delivery.FulfillmentPickup,
			PromoCode:   "BUCK",
		},
		PaymentRef: "ch_1",
	})
	require.NoError(t, err)
	require.Len(t, orders.created, 1)
	require.Empty(t, rec.recs, "tier win must not consume the code")
}
