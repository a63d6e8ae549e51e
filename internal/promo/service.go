package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/pricing"
)

// ErrCodeNotFound is returned by stores when no row matches the code.
var ErrCodeNotFound = errors.New("promo code not found")

// Store captures the persistence operations the resolver needs. Lookups are
// case-insensitive on the code string.
type Store interface {
	GetByCode(ctx context.Context, code string) (Code, error)
	HasRedemption(ctx context.Context, codeID uuid.UUID, owner common.Identity) (bool, error)
}

// Applied is a successfully previewed promo discount. Amount is always
// recomputed server-side; a client-supplied amount is never trusted.
type Applied struct {
	Code     string
	Discount pricing.Money
}

// Service resolves and previews promo codes without mutating any state.
// Counter increments happen only in the Recorder at order finalization.
type Service struct {
	Store  Store
	Now    func() time.Time
	Logger zerolog.Logger
}

// Preview validates the code for the given owner and computes its discount
// against the subtotal. Every failure mode surfaces as ErrNotApplicable; the
// specific reason is only logged.
func (s *Service) Preview(ctx context.Context, code string, owner common.Identity, subtotal pricing.Money) (Applied, error) {
	if s == nil || s.Store == nil {
		return Applied{}, errors.New("promo service not configured")
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return Applied{}, fmt.Errorf("%w: empty code", ErrNotApplicable)
	}
	row, err := s.Store.GetByCode(ctx, trimmed)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			s.logReject(trimmed, "not found")
			return Applied{}, fmt.Errorf("%w: unknown code", ErrNotApplicable)
		}
		return Applied{}, err
	}
	if err := row.Validate(s.now()); err != nil {
		s.logReject(row.Code, err.Error())
		return Applied{}, err
	}
	// One redemption per identity: a code this owner already used on a
	// finalized order cannot be previewed again. Re-checked under lock at
	// redemption time.
	if !owner.IsZero() {
		used, err := s.Store.HasRedemption(ctx, row.ID, owner)
		if err != nil {
			return Applied{}, err
		}
		if used {
			s.logReject(row.Code, "already redeemed by this identity")
			return Applied{}, fmt.Errorf("%w: already redeemed", ErrNotApplicable)
		}
	}
	discount := row.Discount(subtotal)
	if discount <= 0 {
		s.logReject(row.Code, "zero discount")
		return Applied{}, fmt.Errorf("%w: no discount for this cart", ErrNotApplicable)
	}
	return Applied{Code: row.Code, Discount: discount}, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logReject(code, reason string) {
	s.Logger.Debug().Str("code", code).Str("reason", reason).Msg("promo_rejected")
}
