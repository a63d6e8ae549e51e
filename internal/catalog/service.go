package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborlane/storefront-api/internal/pricing"
)

// ErrProductNotFound indicates the product (or variant) does not exist or is
// no longer active.
var ErrProductNotFound = errors.New("product not found")

// Product is the slice of the catalog the checkout core needs: a live unit
// price and a display title. Prices are read at computation time, never
// copied onto cart lines, so catalog changes apply immediately.
type Product struct {
	ID        uuid.UUID
	Title     string
	UnitPrice pricing.Money
}

// PriceSource is the capability cart stores use to price their lines.
type PriceSource interface {
	Product(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (Product, error)
}

// Service reads product pricing from Postgres.
type Service struct {
	Pool *pgxpool.Pool
}

const productSQL = `
SELECT p.id, p.title, p.price_cents
FROM products p
WHERE p.id = $1 AND p.active`

const variantSQL = `
SELECT p.id, p.title || ' — ' || v.title, COALESCE(v.price_cents, p.price_cents)
FROM products p
JOIN product_variants v ON v.product_id = p.id
WHERE p.id = $1 AND v.id = $2 AND p.active`

// Product returns the live price for a product, honoring a variant price
// override when a variant is selected.
func (s *Service) Product(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (Product, error) {
	if s == nil || s.Pool == nil {
		return Product{}, errors.New("catalog service not configured")
	}
	var p Product
	var err error
	if variantID != nil {
		err = s.Pool.QueryRow(ctx, variantSQL, productID, *variantID).Scan(&p.ID, &p.Title, &p.UnitPrice)
	} else {
		err = s.Pool.QueryRow(ctx, productSQL, productID).Scan(&p.ID, &p.Title, &p.UnitPrice)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}
