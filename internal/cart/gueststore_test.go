package cart

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/harborlane/storefront-api/internal/catalog"
	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/pricing"
)

type fakeCatalog struct {
	products map[uuid.UUID]catalog.Product
}

func (f fakeCatalog) Product(_ context.Context, productID uuid.UUID, _ *uuid.UUID) (catalog.Product, error) {
	p, ok := f.products[productID]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

func newGuestStore(t *testing.T, prices map[uuid.UUID]catalog.Product) (GuestStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return GuestStore{R: client, Catalog: fakeCatalog{products: prices}, TTL: time.Hour}, mr
}

func TestGuestUpsertReplacesQuantity(t *testing.T) {
	productID := uuid.New()
	store, _ := newGuestStore(t, map[uuid.UUID]catalog.Product{
		productID: {ID: productID, Title: "Cold Brew", UnitPrice: 599},
	})
	owner := common.Identity{GuestKey: "g1"}
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, owner, productID, nil, 2))
	require.NoError(t, store.Upsert(ctx, owner, productID, nil, 5))

	lines, err := store.Lines(ctx, owner)
	require.NoError(t, err)
	require.Len(t, lines, 1, "same tuple must replace, not duplicate")
	require.EqualValues(t, 5, lines[0].Qty)
	require.EqualValues(t, 599, lines[0].UnitPrice)
}

func TestGuestVariantTuplesAreDistinct(t *testing.T) {
	productID := uuid.New()
	variantID := uuid.New()
	store, _ := newGuestStore(t, map[uuid.UUID]catalog.Product{
		productID: {ID: productID, Title: "Hoodie", UnitPrice: 4500},
	})
	owner := common.Identity{GuestKey: "g1"}
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, owner, productID, nil, 1))
	require.NoError(t, store.Upsert(ctx, owner, productID, &variantID, 2))

	lines, err := store.Lines(ctx, owner)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	qtys := []int32{lines[0].Qty, lines[1].Qty}
	sort.Slice(qtys, func(i, j int) bool { return qtys[i] < qtys[j] })
	require.Equal(t, []int32{1, 2}, qtys)
}

func TestGuestRejectsNonPositiveQty(t *testing.T) {
	store, _ := newGuestStore(t, nil)
	owner := common.Identity{GuestKey: "g1"}
	err := store.Upsert(context.Background(), owner, uuid.New(), nil, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestGuestLinesPriceLive(t *testing.T) {
	productID := uuid.New()
	prices := map[uuid.UUID]catalog.Product{
		productID: {ID: productID, Title: "Tea", UnitPrice: 350},
	}
	store, _ := newGuestStore(t, prices)
	owner := common.Identity{GuestKey: "g1"}
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, owner, productID, nil, 1))

	// Catalog price change applies to the very next read.
	prices[productID] = catalog.Product{ID: productID, Title: "Tea", UnitPrice: pricing.Money(425)}
	lines, err := store.Lines(ctx, owner)
	require.NoError(t, err)
	require.EqualValues(t, 425, lines[0].UnitPrice)
}

func TestGuestDelistedProductDropped(t *testing.T) {
	productID := uuid.New()
	store, _ := newGuestStore(t, nil)
	owner := common.Identity{GuestKey: "g1"}
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, owner, productID, nil, 3))
	lines, err := store.Lines(ctx, owner)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestGuestRemoveAndClear(t *testing.T) {
	productID := uuid.New()
	other := uuid.New()
	store, _ := newGuestStore(t, map[uuid.UUID]catalog.Product{
		productID: {ID: productID, Title: "A", UnitPrice: 100},
		other:     {ID: other, Title: "B", UnitPrice: 200},
	})
	owner := common.Identity{GuestKey: "g1"}
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, owner, productID, nil, 1))
	require.NoError(t, store.Upsert(ctx, owner, other, nil, 1))

	require.NoError(t, store.Remove(ctx, owner, productID, nil))
	lines, err := store.Lines(ctx, owner)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	require.NoError(t, store.Clear(ctx, owner))
	lines, err = store.Lines(ctx, owner)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestGuestCartExpires(t *testing.T) {
	productID := uuid.New()
	store, mr := newGuestStore(t, map[uuid.UUID]catalog.Product{
		productID: {ID: productID, Title: "A", UnitPrice: 100},
	})
	owner := common.Identity{GuestKey: "g1"}
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, owner, productID, nil, 1))
	mr.FastForward(2 * time.Hour)

	lines, err := store.Lines(ctx, owner)
	require.NoError(t, err)
	require.Empty(t, lines)
}
