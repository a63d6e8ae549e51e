package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/delivery"
	"github.com/harborlane/storefront-api/internal/events"
	"github.com/harborlane/storefront-api/internal/lock"
	"github.com/harborlane/storefront-api/internal/obs"
	"github.com/harborlane/storefront-api/internal/order"
	"github.com/harborlane/storefront-api/internal/payment"
	"github.com/harborlane/storefront-api/internal/pricing"
	"github.com/harborlane/storefront-api/internal/promo"
)

// ErrAmountMismatch means the processor captured a different amount than the
// recomputed totals. This is the one pricing failure that must hard-abort
// order creation: accepting it would record a total the customer did not pay.
var ErrAmountMismatch = common.NewAppError(
	"AMOUNT_MISMATCH",
	"the cart changed since payment started, please refresh and retry",
	http.StatusConflict,
	errors.New("charged amount does not match recomputed total"),
)

// OrderStore persists finalized orders. FindByPaymentRef backs the confirm
// replay path and returns order.ErrNotFound when the reference is unused.
type OrderStore interface {
	Create(ctx context.Context, o order.Order) (uuid.UUID, error)
	FindByPaymentRef(ctx context.Context, owner common.Identity, ref string) (order.Order, error)
}

// RedemptionRecorder records promo usage after the order stands.
type RedemptionRecorder interface {
	Record(ctx context.Context, red promo.Redemption) error
}

// CartClearer empties the cart once the order is committed.
type CartClearer interface {
	Clear(ctx context.Context, owner common.Identity) error
}

// CourierDispatcher creates the courier delivery post-payment.
type CourierDispatcher interface {
	Dispatch(ctx context.Context, orderID uuid.UUID, dropoff delivery.Coord, name, phone, quoteID string) (delivery.DispatchResult, error)
}

// FinalizeInput is the confirm-order request: the pricing inputs plus the
// processor's charge reference and the dropoff contact for dispatch.
type FinalizeInput struct {
	Input
	PaymentRef   string
	DropoffName  string
	DropoffPhone string
}

// Result reports the finalized order back to the caller.
type Result struct {
	OrderID  uuid.UUID
	Snapshot Snapshot
}

// Finalizer turns a confirmed charge into a persisted order. Everything
// before the order insert can abort cleanly; everything after it must not
// fail the order — a missed redemption record or courier dispatch is an ops
// problem, not grounds to unwind a paid order.
type Finalizer struct {
	Compiler    *Compiler
	Payments    payment.Processor
	Orders      OrderStore
	Redemptions RedemptionRecorder
	Carts       CartClearer
	Dispatcher  CourierDispatcher
	Locks       *lock.Locker
	Bus         *events.Bus
	Currency    string
	LockTTL     time.Duration
	Logger      zerolog.Logger
}

// Finalize recomputes the totals, checks them against the captured charge,
// persists the order, then runs the post-commit tail (redemption, cart clear,
// dispatch).
func (f *Finalizer) Finalize(ctx context.Context, in FinalizeInput) (Result, error) {
	if f == nil || f.Compiler == nil || f.Payments == nil || f.Orders == nil {
		return Result{}, errors.New("finalizer not configured")
	}
	if f.Locks == nil {
		return f.finalize(ctx, in)
	}
	// One finalization per owner at a time: a double-submitted confirm must
	// not race itself into two orders.
	var res Result
	ttl := f.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	err := f.Locks.WithLock(ctx, "checkout:finalize:"+in.Owner.Key(), ttl, func(ctx context.Context) error {
		var err error
		res, err = f.finalize(ctx, in)
		return err
	})
	return res, err
}

func (f *Finalizer) finalize(ctx context.Context, in FinalizeInput) (Result, error) {
	// A client retry after a completed finalization arrives with the cart
	// already cleared; the unique payment_ref resolves it to the recorded
	// order instead of an empty-cart rejection or a duplicate insert.
	existing, err := f.Orders.FindByPaymentRef(ctx, in.Owner, in.PaymentRef)
	switch {
	case err == nil:
		f.Logger.Info().
			Str("order_id", existing.ID.String()).
			Str("payment_ref", in.PaymentRef).
			Msg("finalize_replayed")
		return Result{OrderID: existing.ID, Snapshot: snapshotFromOrder(existing)}, nil
	case !errors.Is(err, order.ErrNotFound):
		return Result{}, fmt.Errorf("look up payment ref: %w", err)
	}

	snap, err := f.Compiler.Compile(ctx, in.Input)
	if err != nil {
		return Result{}, err
	}
	if len(snap.Lines) == 0 {
		return Result{}, common.NewAppError("EMPTY_CART", "cart is empty", http.StatusUnprocessableEntity, nil)
	}

	conf, err := f.Payments.Confirm(ctx, in.PaymentRef)
	if err != nil {
		return Result{}, fmt.Errorf("confirm charge: %w", err)
	}
	if !conf.Succeeded() {
		return Result{}, common.NewAppError("PAYMENT_NOT_SETTLED", "payment has not succeeded", http.StatusConflict, nil)
	}
	if conf.Amount != snap.Cents {
		f.Logger.Error().
			Int64("charged_cents", conf.Amount).
			Int64("computed_cents", snap.Cents).
			Str("payment_ref", in.PaymentRef).
			Msg("finalize_amount_mismatch")
		if obs.AmountMismatchTotal != nil {
			obs.AmountMismatchTotal.Inc()
		}
		return Result{}, ErrAmountMismatch
	}

	items := make([]order.Item, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		items = append(items, order.Item{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Title:     l.Title,
			UnitPrice: l.UnitPrice,
			Qty:       l.Qty,
		})
	}
	orderID, err := f.Orders.Create(ctx, order.Order{
		Owner:          in.Owner,
		Status:         order.StatusPaid,
		Currency:       f.Currency,
		Fulfillment:    string(in.Fulfillment),
		Subtotal:       snap.Subtotal,
		DiscountSource: string(snap.DiscountSource),
		DiscountCode:   snap.DiscountCode,
		DiscountAmount: snap.DiscountAmount,
		DeliveryFee:    snap.DeliveryFee.Amount,
		Tax:            snap.Tax,
		Total:          snap.Total,
		Cents:          snap.Cents,
		PaymentRef:     in.PaymentRef,
		Delivery:       snap.DeliveryFee,
		Items:          items,
	})
	if err != nil {
		return Result{}, fmt.Errorf("persist order: %w", err)
	}

	// The order is committed. Nothing below may fail it.
	f.recordRedemption(ctx, in, snap, orderID)
	f.clearCart(ctx, in.Owner)
	f.dispatch(ctx, in, snap, orderID)

	if f.Bus != nil {
		f.Bus.Emit(ctx, events.TopicOrderCreated, orderID, map[string]any{
			"orderId":    orderID.String(),
			"owner":      in.Owner.Key(),
			"totalCents": snap.Cents,
		})
	}
	f.Logger.Info().
		Str("order_id", orderID.String()).
		Int64("total_cents", snap.Cents).
		Str("discount_source", sourceLabel(snap.DiscountSource)).
		Msg("order_finalized")
	return Result{OrderID: orderID, Snapshot: snap}, nil
}

// recordRedemption runs only when the code discount actually won. A tier win
// with a code attached deliberately records nothing: the code was not used.
func (f *Finalizer) recordRedemption(ctx context.Context, in FinalizeInput, snap Snapshot, orderID uuid.UUID) {
	if snap.DiscountSource != pricing.SourceCode || snap.DiscountCode == "" || f.Redemptions == nil {
		return
	}
	err := f.Redemptions.Record(ctx, promo.Redemption{
		Code:     snap.DiscountCode,
		Owner:    in.Owner,
		OrderID:  orderID,
		Subtotal: snap.Subtotal,
		Discount: snap.DiscountAmount,
	})
	if obs.RedemptionTotal != nil {
		obs.RedemptionTotal.WithLabelValues(redemptionResult(err)).Inc()
	}
	if err == nil {
		return
	}
	// Order stands regardless: an unrecorded promo is a lesser harm than a
	// deleted paid order.
	f.Logger.Error().Err(err).
		Str("order_id", orderID.String()).
		Str("code", snap.DiscountCode).
		Msg("redemption_record_failed")
	if f.Bus != nil {
		f.Bus.Emit(ctx, events.TopicRedemptionFailed, orderID, map[string]any{
			"orderId": orderID.String(),
			"code":    snap.DiscountCode,
			"error":   err.Error(),
		})
	}
}

func (f *Finalizer) clearCart(ctx context.Context, owner common.Identity) {
	if f.Carts == nil {
		return
	}
	if err := f.Carts.Clear(ctx, owner); err != nil {
		f.Logger.Warn().Err(err).Str("owner", owner.Key()).Msg("cart_clear_failed")
	}
}

func (f *Finalizer) dispatch(ctx context.Context, in FinalizeInput, snap Snapshot, orderID uuid.UUID) {
	if f.Dispatcher == nil || in.Fulfillment != delivery.FulfillmentDelivery || in.Dropoff == nil {
		return
	}
	quoteID := snap.DeliveryFee.QuoteID
	if _, err := f.Dispatcher.Dispatch(ctx, orderID, *in.Dropoff, in.DropoffName, in.DropoffPhone, quoteID); err != nil {
		// Dispatcher already alerted; the order remains paid and valid.
		if obs.DispatchFailTotal != nil {
			obs.DispatchFailTotal.Inc()
		}
	}
}

// snapshotFromOrder rebuilds the totals view from the persisted columns so a
// replayed confirm answers with the amounts that were actually charged.
func snapshotFromOrder(o order.Order) Snapshot {
	snap := Snapshot{
		Subtotal:       o.Subtotal,
		DiscountSource: pricing.DiscountSource(o.DiscountSource),
		DiscountCode:   o.DiscountCode,
		DiscountAmount: o.DiscountAmount,
		DeliveryFee:    delivery.Fee{Amount: o.DeliveryFee},
		Tax:            o.Tax,
		Total:          o.Total,
		Cents:          o.Cents,
	}
	switch d := o.Delivery.(type) {
	case delivery.Fee:
		snap.DeliveryFee = d
	case json.RawMessage:
		var fee delivery.Fee
		if len(d) > 0 && json.Unmarshal(d, &fee) == nil {
			snap.DeliveryFee = fee
		}
	}
	return snap
}

func redemptionResult(err error) string {
	switch {
	case err == nil:
		return "recorded"
	case errors.Is(err, promo.ErrCapExhausted):
		return "cap_exhausted"
	case errors.Is(err, promo.ErrAlreadyRedeemed):
		return "already_redeemed"
	default:
		return "error"
	}
}
