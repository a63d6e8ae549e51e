package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/pricing"
)

// ErrInvalidQuantity is returned for non-positive quantities.
var ErrInvalidQuantity = errors.New("quantity must be positive")

// Line is one cart row with its live unit price attached. The price is read
// from the catalog at assembly time, never stored with the line.
type Line struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Title     string
	UnitPrice pricing.Money
	Qty       int32
}

// Source is the single capability the totals compiler needs: the current
// line items for an owner. It is implemented once for authenticated users
// (durable store) and once for guests (ephemeral store); the compiler does
// not know which it is talking to.
type Source interface {
	Lines(ctx context.Context, owner common.Identity) ([]Line, error)
}

// Store is the mutable cart behind a Source. Upsert enforces the
// (owner, product, variant) uniqueness invariant: setting a tuple that
// already exists replaces its quantity rather than adding a row.
type Store interface {
	Source
	Upsert(ctx context.Context, owner common.Identity, productID uuid.UUID, variantID *uuid.UUID, qty int32) error
	Remove(ctx context.Context, owner common.Identity, productID uuid.UUID, variantID *uuid.UUID) error
	Clear(ctx context.Context, owner common.Identity) error
}
