// Package grounding serves the factual data replies are validated against.
//
// The only source today is the tenant product catalog: names and exact
// prices. The supervisor treats whatever a Source returns as ground truth,
// so rows here must come from the tenant's system of record, never from
// model output.
package grounding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/storage"
	"github.com/brisaai/sicc/internal/tenant"
)

// Product is a catalog entry with its authoritative price.
type Product struct {
	ID        string
	TenantID  string
	Name      string
	Price     float64
	Currency  string
	Active    bool
	UpdatedAt time.Time
}

// DisplayPrice renders the price in Brazilian format, e.g. "R$ 1299,90".
func (p Product) DisplayPrice() string {
	s := fmt.Sprintf("%.2f", p.Price)
	return "R$ " + strings.ReplaceAll(s, ".", ",")
}

// Source provides the facts for a tenant. Implementations read the scope
// from the context and fail closed without one.
type Source interface {
	// Products returns the tenant's active products.
	Products(ctx context.Context) ([]Product, error)
}

// Catalog is the SQLite-backed product source.
type Catalog struct {
	db     *storage.DB
	logger *zap.Logger
}

// NewCatalog creates a catalog over the shared database.
func NewCatalog(db *storage.DB, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{db: db, logger: logger}
}

// Upsert creates or updates a product by tenant and name.
func (c *Catalog) Upsert(ctx context.Context, name string, price float64, currency string) (Product, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return Product{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return Product{}, fmt.Errorf("product name cannot be empty")
	}
	if price < 0 {
		return Product{}, fmt.Errorf("product price cannot be negative")
	}
	if currency == "" {
		currency = "BRL"
	}

	now := time.Now().UTC()
	product := Product{
		ID:        uuid.New().String(),
		TenantID:  scope.TenantID,
		Name:      name,
		Price:     price,
		Currency:  currency,
		Active:    true,
		UpdatedAt: now,
	}

	var existingID string
	err = c.db.SQL().QueryRowContext(ctx,
		`SELECT id FROM products WHERE tenant_id = ? AND name = ?`,
		scope.TenantID, name).Scan(&existingID)
	switch {
	case err == nil:
		product.ID = existingID
		_, err = c.db.SQL().ExecContext(ctx,
			`UPDATE products SET price = ?, currency = ?, active = 1, updated_at = ? WHERE id = ?`,
			price, currency, storage.FormatTime(now), existingID)
		if err != nil {
			return Product{}, fmt.Errorf("updating product: %w", err)
		}
		return product, nil
	case !errors.Is(err, sql.ErrNoRows):
		return Product{}, fmt.Errorf("looking up product: %w", err)
	}

	_, err = c.db.SQL().ExecContext(ctx,
		`INSERT INTO products (id, tenant_id, name, price, currency, active, updated_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?)`,
		product.ID, product.TenantID, product.Name, product.Price, product.Currency,
		storage.FormatTime(now))
	if err != nil {
		return Product{}, fmt.Errorf("inserting product: %w", err)
	}
	return product, nil
}

// Deactivate hides a product from grounding without deleting history.
func (c *Catalog) Deactivate(ctx context.Context, id string) error {
	if _, err := tenant.FromContext(ctx); err != nil {
		return err
	}
	_, err := c.db.SQL().ExecContext(ctx,
		`UPDATE products SET active = 0, updated_at = ? WHERE id = ?`,
		storage.FormatTime(time.Now().UTC()), id)
	return err
}

// Products returns the tenant's active products.
func (c *Catalog) Products(ctx context.Context) ([]Product, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.SQL().QueryContext(ctx,
		`SELECT id, tenant_id, name, price, currency, active, updated_at
		 FROM products WHERE tenant_id = ? AND active = 1 ORDER BY name`,
		scope.TenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		var updatedAt string
		var active int
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Price, &p.Currency, &active, &updatedAt); err != nil {
			return nil, err
		}
		p.Active = active == 1
		if p.UpdatedAt, err = storage.ParseTime(updatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

var _ Source = (*Catalog)(nil)
