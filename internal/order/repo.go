package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/pricing"
)

// ErrNotFound is returned when no order matches the id for the owner.
var ErrNotFound = errors.New("order not found")

// Statuses an order moves through. Orders are only created after the charge
// is confirmed, so they start at paid.
const (
	StatusPaid       = "PAID"
	StatusDispatched = "DISPATCHED"
	StatusCompleted  = "COMPLETED"
)

// Item is one purchased line, priced as it was at finalization.
type Item struct {
	ProductID uuid.UUID     `json:"productId"`
	VariantID *uuid.UUID    `json:"variantId,omitempty"`
	Title     string        `json:"title"`
	UnitPrice pricing.Money `json:"unitPriceCents"`
	Qty       int32         `json:"qty"`
}

// Order is the permanent record of a finalized checkout. The pricing columns
// are the exact snapshot that was charged; they are never recomputed, so a
// later tax-rate or tier change cannot rewrite history.
type Order struct {
	ID             uuid.UUID
	Owner          common.Identity
	Status         string
	Currency       string
	Fulfillment    string
	Subtotal       pricing.Money
	DiscountSource string
	DiscountCode   string
	DiscountAmount pricing.Money
	DeliveryFee    pricing.Money
	Tax            pricing.Money
	Total          pricing.Money
	Cents          int64
	PaymentRef     string
	Delivery       any // fee/quote detail, persisted as JSON
	Items          []Item
	CreatedAt      time.Time
}

// PGStore persists orders in Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

const insertOrderSQL = `
INSERT INTO orders (
  id, user_id, guest_key, status, currency, fulfillment,
  subtotal_cents, discount_source, discount_code, discount_cents,
  delivery_fee_cents, tax_cents, total_cents, charged_cents,
  payment_ref, delivery_snapshot
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

const insertOrderItemSQL = `
INSERT INTO order_items (order_id, product_id, variant_id, title, unit_price_cents, qty)
VALUES ($1, $2, $3, $4, $5, $6)`

// Create writes the order and its items in one transaction and returns the
// order id.
func (s PGStore) Create(ctx context.Context, o Order) (uuid.UUID, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = StatusPaid
	}
	var deliveryJSON []byte
	if o.Delivery != nil {
		b, err := json.Marshal(o.Delivery)
		if err != nil {
			return uuid.Nil, err
		}
		deliveryJSON = b
	}
	var guestKey *string
	if o.Owner.UserID == nil && o.Owner.GuestKey != "" {
		guestKey = &o.Owner.GuestKey
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return uuid.Nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Owner.UserID, guestKey, o.Status, o.Currency, o.Fulfillment,
		o.Subtotal, o.DiscountSource, o.DiscountCode, o.DiscountAmount,
		o.DeliveryFee, o.Tax, o.Total, o.Cents,
		o.PaymentRef, deliveryJSON,
	); err != nil {
		return uuid.Nil, err
	}
	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, insertOrderItemSQL,
			o.ID, it.ProductID, it.VariantID, it.Title, it.UnitPrice, it.Qty,
		); err != nil {
			return uuid.Nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return o.ID, nil
}

const getOrderSQL = `
SELECT id, user_id, guest_key, status, currency, fulfillment,
       subtotal_cents, discount_source, discount_code, discount_cents,
       delivery_fee_cents, tax_cents, total_cents, charged_cents,
       payment_ref, created_at
FROM orders
WHERE id = $1`

// Get loads one order the owner is allowed to see.
func (s PGStore) Get(ctx context.Context, owner common.Identity, id uuid.UUID) (Order, error) {
	var (
		o        Order
		userID   *uuid.UUID
		guestKey *string
	)
	err := s.Pool.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &userID, &guestKey, &o.Status, &o.Currency, &o.Fulfillment,
		&o.Subtotal, &o.DiscountSource, &o.DiscountCode, &o.DiscountAmount,
		&o.DeliveryFee, &o.Tax, &o.Total, &o.Cents,
		&o.PaymentRef, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	o.Owner = common.Identity{UserID: userID}
	if guestKey != nil {
		o.Owner.GuestKey = *guestKey
	}
	if !ownerMatches(o.Owner, owner) {
		return Order{}, ErrNotFound
	}
	items, err := s.items(ctx, o.ID)
	if err != nil {
		return Order{}, err
	}
	o.Items = items
	return o, nil
}

const orderByPaymentRefSQL = `
SELECT id, user_id, guest_key, status, currency, fulfillment,
       subtotal_cents, discount_source, discount_code, discount_cents,
       delivery_fee_cents, tax_cents, total_cents, charged_cents,
       payment_ref, delivery_snapshot, created_at
FROM orders
WHERE payment_ref = $1`

// FindByPaymentRef loads the order a charge reference already settled into,
// if any. payment_ref carries a unique index, so a confirm replay resolves to
// at most one row; a row belonging to a different owner reads as not found.
func (s PGStore) FindByPaymentRef(ctx context.Context, owner common.Identity, ref string) (Order, error) {
	var (
		o            Order
		userID       *uuid.UUID
		guestKey     *string
		deliveryJSON []byte
	)
	err := s.Pool.QueryRow(ctx, orderByPaymentRefSQL, ref).Scan(
		&o.ID, &userID, &guestKey, &o.Status, &o.Currency, &o.Fulfillment,
		&o.Subtotal, &o.DiscountSource, &o.DiscountCode, &o.DiscountAmount,
		&o.DeliveryFee, &o.Tax, &o.Total, &o.Cents,
		&o.PaymentRef, &deliveryJSON, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	o.Owner = common.Identity{UserID: userID}
	if guestKey != nil {
		o.Owner.GuestKey = *guestKey
	}
	if !ownerMatches(o.Owner, owner) {
		return Order{}, ErrNotFound
	}
	if len(deliveryJSON) > 0 {
		o.Delivery = json.RawMessage(deliveryJSON)
	}
	items, err := s.items(ctx, o.ID)
	if err != nil {
		return Order{}, err
	}
	o.Items = items
	return o, nil
}

const listOrdersSQL = `
SELECT id, status, currency, fulfillment, subtotal_cents, discount_cents,
       delivery_fee_cents, tax_cents, total_cents, created_at
FROM orders
WHERE (user_id = $1 AND $1 IS NOT NULL) OR (guest_key = $2 AND $2 <> '')
ORDER BY created_at DESC
LIMIT 50`

// List returns the owner's most recent orders, newest first.
func (s PGStore) List(ctx context.Context, owner common.Identity) ([]Order, error) {
	rows, err := s.Pool.Query(ctx, listOrdersSQL, owner.UserID, owner.GuestKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID, &o.Status, &o.Currency, &o.Fulfillment, &o.Subtotal,
			&o.DiscountAmount, &o.DeliveryFee, &o.Tax, &o.Total, &o.CreatedAt,
		); err != nil {
			return nil, err
		}
		o.Owner = owner
		out = append(out, o)
	}
	return out, rows.Err()
}

const orderItemsSQL = `
SELECT product_id, variant_id, title, unit_price_cents, qty
FROM order_items
WHERE order_id = $1`

func (s PGStore) items(ctx context.Context, orderID uuid.UUID) ([]Item, error) {
	rows, err := s.Pool.Query(ctx, orderItemsSQL, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.VariantID, &it.Title, &it.UnitPrice, &it.Qty); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func ownerMatches(rowOwner, caller common.Identity) bool {
	if rowOwner.UserID != nil {
		return caller.UserID != nil && *caller.UserID == *rowOwner.UserID
	}
	return rowOwner.GuestKey != "" && rowOwner.GuestKey == caller.GuestKey
}
