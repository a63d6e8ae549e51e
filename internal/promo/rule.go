package promo

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborlane/storefront-api/internal/pricing"
)

// ErrNotApplicable is the single error surfaced for any promo validation
// failure. Not-found, inactive, outside-window, cap-exhausted and
// already-redeemed all collapse into it so callers cannot enumerate which
// check failed; the detail is preserved in the wrapped message for logs.
var ErrNotApplicable = errors.New("promo code not applicable")

// Kind distinguishes how a code's value is interpreted.
type Kind string

const (
	// KindPercent discounts a percentage of the subtotal.
	KindPercent Kind = "percent"
	// KindFixed discounts a fixed amount, capped at the subtotal.
	KindFixed Kind = "fixed"
)

// Code is a promo code row as stored. The usage counter is only ever
// advanced by the Recorder; preview paths read it without mutation.
type Code struct {
	ID          uuid.UUID
	Code        string
	Kind        Kind
	PercentBps  int32
	AmountCents pricing.Money
	Active      bool
	StartsAt    *time.Time
	EndsAt      *time.Time
	UsageCap    *int32
	UsedCount   int32
}

// Validate runs the validation chain at the provided instant: active, then
// activation window, then global cap. The cap check here is advisory; the
// Recorder re-checks it under a row lock at redemption time.
func (c Code) Validate(now time.Time) error {
	if !c.Active {
		return fmt.Errorf("%w: inactive", ErrNotApplicable)
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return fmt.Errorf("%w: not yet active", ErrNotApplicable)
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return fmt.Errorf("%w: expired", ErrNotApplicable)
	}
	if c.UsageCap != nil && *c.UsageCap >= 0 && c.UsedCount >= *c.UsageCap {
		return fmt.Errorf("%w: usage cap reached", ErrNotApplicable)
	}
	return nil
}

// Discount computes the code's discount against the subtotal, rounding
// half-up to cents. A fixed discount never exceeds the subtotal, so a small
// cart cannot go negative.
func (c Code) Discount(subtotal pricing.Money) pricing.Money {
	if subtotal <= 0 {
		return 0
	}
	switch c.Kind {
	case KindPercent:
		return pricing.ApplyBps(subtotal, int(c.PercentBps))
	case KindFixed:
		amount := c.AmountCents
		if amount > subtotal {
			amount = subtotal
		}
		if amount < 0 {
			return 0
		}
		return amount
	default:
		return 0
	}
}
