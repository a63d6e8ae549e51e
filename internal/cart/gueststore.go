package cart

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/harborlane/storefront-api/internal/catalog"
	"github.com/harborlane/storefront-api/internal/common"
)

// GuestStore keeps guest carts in Redis hashes keyed by the guest session
// key, with a sliding TTL. Only (product, variant, qty) tuples live here;
// prices are read from the catalog when lines are assembled so the store
// never serves a stale price.
type GuestStore struct {
	R       *redis.Client
	Catalog catalog.PriceSource
	TTL     time.Duration
}

func (s GuestStore) key(owner common.Identity) string {
	return "cart:guest:" + owner.GuestKey
}

func (s GuestStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

// field encodes the (product, variant) tuple as a hash field, which gives us
// the uniqueness invariant for free: writing the same tuple twice overwrites.
func field(productID uuid.UUID, variantID *uuid.UUID) string {
	if variantID == nil {
		return productID.String()
	}
	return productID.String() + "|" + variantID.String()
}

func parseField(f string) (uuid.UUID, *uuid.UUID, error) {
	parts := strings.SplitN(f, "|", 2)
	productID, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, nil, err
	}
	if len(parts) == 1 {
		return productID, nil, nil
	}
	variantID, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, nil, err
	}
	return productID, &variantID, nil
}

// Lines reads the guest's tuples and prices them live through the catalog.
// Tuples whose product vanished from the catalog are dropped silently so a
// delisted product cannot wedge a guest's checkout.
func (s GuestStore) Lines(ctx context.Context, owner common.Identity) ([]Line, error) {
	if owner.GuestKey == "" {
		return nil, errors.New("cart: guest store requires a guest key")
	}
	entries, err := s.R.HGetAll(ctx, s.key(owner)).Result()
	if err != nil {
		return nil, err
	}
	var lines []Line
	for f, rawQty := range entries {
		productID, variantID, err := parseField(f)
		if err != nil {
			continue
		}
		qty, err := strconv.ParseInt(rawQty, 10, 32)
		if err != nil || qty <= 0 {
			continue
		}
		product, err := s.Catalog.Product(ctx, productID, variantID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				continue
			}
			return nil, err
		}
		lines = append(lines, Line{
			ProductID: productID,
			VariantID: variantID,
			Title:     product.Title,
			UnitPrice: product.UnitPrice,
			Qty:       int32(qty),
		})
	}
	return lines, nil
}

// Upsert sets the quantity for a tuple and refreshes the cart TTL.
func (s GuestStore) Upsert(ctx context.Context, owner common.Identity, productID uuid.UUID, variantID *uuid.UUID, qty int32) error {
	if owner.GuestKey == "" {
		return errors.New("cart: guest store requires a guest key")
	}
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	key := s.key(owner)
	pipe := s.R.TxPipeline()
	pipe.HSet(ctx, key, field(productID, variantID), qty)
	pipe.Expire(ctx, key, s.ttl())
	_, err := pipe.Exec(ctx)
	return err
}

// Remove deletes one tuple.
func (s GuestStore) Remove(ctx context.Context, owner common.Identity, productID uuid.UUID, variantID *uuid.UUID) error {
	if owner.GuestKey == "" {
		return errors.New("cart: guest store requires a guest key")
	}
	return s.R.HDel(ctx, s.key(owner), field(productID, variantID)).Err()
}

// Clear drops the whole cart hash.
func (s GuestStore) Clear(ctx context.Context, owner common.Identity) error {
	if owner.GuestKey == "" {
		return errors.New("cart: guest store requires a guest key")
	}
	return s.R.Del(ctx, s.key(owner)).Err()
}
