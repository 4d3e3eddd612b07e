package grounding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisaai/sicc/internal/storage"
	"github.com/brisaai/sicc/internal/tenant"
)

func newCatalog(t *testing.T) (*Catalog, *storage.DB) {
	t.Helper()
	db, err := storage.Open(t.TempDir()+"/sicc.db", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCatalog(db, nil), db
}

func catalogCtx(t *testing.T, tenantID string) context.Context {
	t.Helper()
	scope, err := tenant.NewScope(tenantID)
	require.NoError(t, err)
	return tenant.NewContext(context.Background(), scope)
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	catalog, _ := newCatalog(t)
	ctx := catalogCtx(t, "acme")

	created, err := catalog.Upsert(ctx, "Plano Premium", 150.00, "BRL")
	require.NoError(t, err)

	updated, err := catalog.Upsert(ctx, "Plano Premium", 180.00, "BRL")
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	products, err := catalog.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.InDelta(t, 180.00, products[0].Price, 0.001)
}

func TestUpsertSurfacesLookupFailure(t *testing.T) {
	catalog, db := newCatalog(t)
	ctx := catalogCtx(t, "acme")

	// A failing existence check must abort the upsert, not fall through
	// to an insert.
	require.NoError(t, db.Close())

	_, err := catalog.Upsert(ctx, "Plano Premium", 150.00, "BRL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "looking up product")
}

func TestUpsertRequiresScope(t *testing.T) {
	catalog, _ := newCatalog(t)

	_, err := catalog.Upsert(context.Background(), "Plano Premium", 150.00, "BRL")
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)
}

func TestProductsAreTenantScoped(t *testing.T) {
	catalog, _ := newCatalog(t)

	_, err := catalog.Upsert(catalogCtx(t, "acme"), "Plano Premium", 150.00, "BRL")
	require.NoError(t, err)

	products, err := catalog.Products(catalogCtx(t, "rival"))
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestDeactivateHidesProduct(t *testing.T) {
	catalog, _ := newCatalog(t)
	ctx := catalogCtx(t, "acme")

	product, err := catalog.Upsert(ctx, "Plano Premium", 150.00, "BRL")
	require.NoError(t, err)
	require.NoError(t, catalog.Deactivate(ctx, product.ID))

	products, err := catalog.Products(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestDisplayPrice(t *testing.T) {
	assert.Equal(t, "R$ 1299,90", Product{Price: 1299.90}.DisplayPrice())
	assert.Equal(t, "R$ 150,00", Product{Price: 150}.DisplayPrice())
}
