package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/harborlane/storefront-api/internal/common"
)

// Service routes cart operations to the durable store for authenticated
// users and the ephemeral store for guests. It implements Source itself, so
// the totals compiler can consume either kind of cart through one value.
type Service struct {
	Users  Store
	Guests Store
}

func (s *Service) store(owner common.Identity) (Store, error) {
	switch {
	case owner.Authenticated():
		if s.Users == nil {
			return nil, errors.New("cart: user store not configured")
		}
		return s.Users, nil
	case owner.GuestKey != "":
		if s.Guests == nil {
			return nil, errors.New("cart: guest store not configured")
		}
		return s.Guests, nil
	default:
		return nil, errors.New("cart: owner identity required")
	}
}

// Lines returns the owner's current cart lines with live prices.
func (s *Service) Lines(ctx context.Context, owner common.Identity) ([]Line, error) {
	st, err := s.store(owner)
	if err != nil {
		return nil, err
	}
	return st.Lines(ctx, owner)
}

// SetItem adds or replaces the quantity for a (product, variant) tuple.
func (s *Service) SetItem(ctx context.Context, owner common.Identity, productID uuid.UUID, variantID *uuid.UUID, qty int32) error {
	st, err := s.store(owner)
	if err != nil {
		return err
	}
	return st.Upsert(ctx, owner, productID, variantID, qty)
}

// RemoveItem deletes one tuple from the cart.
func (s *Service) RemoveItem(ctx context.Context, owner common.Identity, productID uuid.UUID, variantID *uuid.UUID) error {
	st, err := s.store(owner)
	if err != nil {
		return err
	}
	return st.Remove(ctx, owner, productID, variantID)
}

// Clear empties the cart, e.g. after checkout completion.
func (s *Service) Clear(ctx context.Context, owner common.Identity) error {
	st, err := s.store(owner)
	if err != nil {
		return err
	}
	return st.Clear(ctx, owner)
}
