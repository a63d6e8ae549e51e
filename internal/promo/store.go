package promo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborlane/storefront-api/internal/common"
)

// PGStore implements Store on top of Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

const getByCodeSQL = `
SELECT id, code, kind, percent_bps, amount_cents, active, starts_at, ends_at, usage_cap, used_count
FROM promo_codes
WHERE lower(code) = lower($1)`

// GetByCode fetches a promo code row, matching case-insensitively.
func (s PGStore) GetByCode(ctx context.Context, code string) (Code, error) {
	var c Code
	err := s.Pool.QueryRow(ctx, getByCodeSQL, code).Scan(
		&c.ID, &c.Code, &c.Kind, &c.PercentBps, &c.AmountCents,
		&c.Active, &c.StartsAt, &c.EndsAt, &c.UsageCap, &c.UsedCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, ErrCodeNotFound
		}
		return Code{}, err
	}
	return c, nil
}

const hasRedemptionByUserSQL = `
SELECT EXISTS (SELECT 1 FROM promo_redemptions WHERE promo_code_id = $1 AND user_id = $2)`

const hasRedemptionByGuestSQL = `
SELECT EXISTS (SELECT 1 FROM promo_redemptions WHERE promo_code_id = $1 AND guest_key = $2)`

// HasRedemption reports whether the owner already redeemed this code on a
// finalized order.
func (s PGStore) HasRedemption(ctx context.Context, codeID uuid.UUID, owner common.Identity) (bool, error) {
	var exists bool
	var err error
	if owner.UserID != nil {
		err = s.Pool.QueryRow(ctx, hasRedemptionByUserSQL, codeID, *owner.UserID).Scan(&exists)
	} else {
		err = s.Pool.QueryRow(ctx, hasRedemptionByGuestSQL, codeID, owner.GuestKey).Scan(&exists)
	}
	return exists, err
}
