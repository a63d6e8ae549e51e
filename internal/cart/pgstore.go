package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborlane/storefront-api/internal/common"
)

// PGStore keeps authenticated users' carts in Postgres. Lines join the
// products table at read time so prices are always live.
type PGStore struct {
	Pool *pgxpool.Pool
}

const pgLinesSQL = `
SELECT ci.product_id, ci.variant_id,
       CASE WHEN v.id IS NULL THEN p.title ELSE p.title || ' — ' || v.title END,
       COALESCE(v.price_cents, p.price_cents),
       ci.qty
FROM cart_items ci
JOIN products p ON p.id = ci.product_id AND p.active
LEFT JOIN product_variants v ON v.id = ci.variant_id
WHERE ci.user_id = $1
ORDER BY ci.created_at`

// Lines returns the owner's current cart lines with live prices.
func (s PGStore) Lines(ctx context.Context, owner common.Identity) ([]Line, error) {
	if owner.UserID == nil {
		return nil, errors.New("cart: pg store requires an authenticated owner")
	}
	rows, err := s.Pool.Query(ctx, pgLinesSQL, *owner.UserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ProductID, &l.VariantID, &l.Title, &l.UnitPrice, &l.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

const pgUpsertSQL = `
INSERT INTO cart_items (user_id, product_id, variant_id, qty)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, product_id, variant_key)
DO UPDATE SET qty = EXCLUDED.qty, updated_at = now()`

// Upsert sets the quantity for a (owner, product, variant) tuple, replacing
// any existing row for the same tuple.
func (s PGStore) Upsert(ctx context.Context, owner common.Identity, productID uuid.UUID, variantID *uuid.UUID, qty int32) error {
	if owner.UserID == nil {
		return errors.New("cart: pg store requires an authenticated owner")
	}
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	_, err := s.Pool.Exec(ctx, pgUpsertSQL, *owner.UserID, productID, variantID, qty)
	return err
}

const pgRemoveSQL = `
DELETE FROM cart_items
WHERE user_id = $1 AND product_id = $2 AND variant_key = COALESCE($3::text, '')`

// Remove deletes one tuple from the cart.
func (s PGStore) Remove(ctx context.Context, owner common.Identity, productID uuid.UUID, variantID *uuid.UUID) error {
	if owner.UserID == nil {
		return errors.New("cart: pg store requires an authenticated owner")
	}
	var key *string
	if variantID != nil {
		v := variantID.String()
		key = &v
	}
	_, err := s.Pool.Exec(ctx, pgRemoveSQL, *owner.UserID, productID, key)
	return err
}

const pgClearSQL = `DELETE FROM cart_items WHERE user_id = $1`

// Clear empties the owner's cart.
func (s PGStore) Clear(ctx context.Context, owner common.Identity) error {
	if owner.UserID == nil {
		return errors.New("cart: pg store requires an authenticated owner")
	}
	_, err := s.Pool.Exec(ctx, pgClearSQL, *owner.UserID)
	return err
}
