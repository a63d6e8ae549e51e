package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/pricing"
	"github.com/harborlane/storefront-api/internal/resilience"
)

var (
	// ErrCapExhausted means another finalization consumed the last remaining
	// use before this one acquired the row lock.
	ErrCapExhausted = errors.New("promo usage cap exhausted")
	// ErrAlreadyRedeemed means this identity already holds a redemption for
	// the code, detected under lock.
	ErrAlreadyRedeemed = errors.New("promo already redeemed by this identity")
)

// Redemption is the permanent audit record of a promo actually used on a
// finalized order.
type Redemption struct {
	Code     string
	Owner    common.Identity
	OrderID  uuid.UUID
	Subtotal pricing.Money
	Discount pricing.Money
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Recorder performs the one mutation of shared promo state: inserting the
// redemption record and advancing the global usage counter, atomically,
// under a row-level lock. Transient contention (serialization failures,
// deadlocks) is retried with bounded exponential backoff; everything else
// fails immediately.
type Recorder struct {
	DB          TxBeginner
	MaxAttempts int
	BaseBackoff time.Duration
	Logger      zerolog.Logger
}

const lockCodeSQL = `
SELECT id, active, usage_cap, used_count
FROM promo_codes
WHERE lower(code) = lower($1)
FOR UPDATE`

const insertRedemptionSQL = `
INSERT INTO promo_redemptions (promo_code_id, user_id, guest_key, order_id, subtotal_cents, discount_cents)
VALUES ($1, $2, $3, $4, $5, $6)`

const incrementUsedSQL = `
UPDATE promo_codes SET used_count = used_count + 1, updated_at = now() WHERE id = $1`

const redeemedByUserSQL = `
SELECT EXISTS (SELECT 1 FROM promo_redemptions WHERE promo_code_id = $1 AND user_id = $2)`

const redeemedByGuestSQL = `
SELECT EXISTS (SELECT 1 FROM promo_redemptions WHERE promo_code_id = $1 AND guest_key = $2)`

// Record runs the locked redemption. It is idempotent per (code, order): a
// replay that hits the unique constraint reports success without touching
// the counter again.
func (r *Recorder) Record(ctx context.Context, red Redemption) error {
	if r == nil || r.DB == nil {
		return errors.New("promo recorder not configured")
	}
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := r.BaseBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := r.recordOnce(ctx, red)
		if err == nil || !isRetryable(err) {
			return err
		}
		lastErr = err
		r.Logger.Warn().Err(err).Int("attempt", attempt).Str("code", red.Code).Msg("promo_redeem_retry")
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(resilience.Backoff(backoff, attempt, 0.2))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("record redemption: %w", lastErr)
}

func (r *Recorder) recordOnce(ctx context.Context, red Redemption) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		codeID    uuid.UUID
		active    bool
		usageCap  *int32
		usedCount int32
	)
	if err := tx.QueryRow(ctx, lockCodeSQL, red.Code).Scan(&codeID, &active, &usageCap, &usedCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCodeNotFound
		}
		return err
	}
	if !active {
		return fmt.Errorf("%w: inactive", ErrNotApplicable)
	}
	if usageCap != nil && *usageCap >= 0 && usedCount >= *usageCap {
		return ErrCapExhausted
	}

	// Per-identity one-time use, re-checked under the same lock that guards
	// the counter so two orders from one identity cannot race past it.
	var redeemed bool
	if red.Owner.UserID != nil {
		err = tx.QueryRow(ctx, redeemedByUserSQL, codeID, *red.Owner.UserID).Scan(&redeemed)
	} else {
		err = tx.QueryRow(ctx, redeemedByGuestSQL, codeID, red.Owner.GuestKey).Scan(&redeemed)
	}
	if err != nil {
		return err
	}
	if redeemed {
		return ErrAlreadyRedeemed
	}

	var userID *uuid.UUID
	var guestKey *string
	if red.Owner.UserID != nil {
		userID = red.Owner.UserID
	} else {
		guestKey = &red.Owner.GuestKey
	}
	if _, err := tx.Exec(ctx, insertRedemptionSQL, codeID, userID, guestKey, red.OrderID, red.Subtotal, red.Discount); err != nil {
		if isUniqueViolation(err) {
			// Replay of an already-recorded redemption for this order.
			return nil
		}
		return err
	}
	if _, err := tx.Exec(ctx, incrementUsedSQL, codeID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
