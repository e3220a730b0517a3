// Package catalog groups the master-data records referenced by the stock
// ledger: parts, locations and suppliers.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/catalog/locations"
	"github.com/meridian-erp/meridian-erp/internal/catalog/parts"
	"github.com/meridian-erp/meridian-erp/internal/catalog/shared"
	"github.com/meridian-erp/meridian-erp/internal/catalog/suppliers"
)

// Resolver answers existence checks for ledger and procurement operations.
// Unknown ids surface as not-found before any mutation happens.
type Resolver struct {
	parts     *parts.Service
	locations *locations.Service
	suppliers *suppliers.Service
}

// NewResolver builds a Resolver over the catalog services.
func NewResolver(parts *parts.Service, locations *locations.Service, suppliers *suppliers.Service) *Resolver {
	return &Resolver{parts: parts, locations: locations, suppliers: suppliers}
}

// EnsurePart fails with ErrNotFound when the part id is unknown.
func (r *Resolver) EnsurePart(ctx context.Context, id int64) error {
	err := r.parts.Exists(ctx, id)
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrInvalidID) {
		return fmt.Errorf("part %d: %w", id, shared.ErrNotFound)
	}
	return err
}

// EnsureLocation fails with ErrNotFound when the location id is unknown.
func (r *Resolver) EnsureLocation(ctx context.Context, id int64) error {
	err := r.locations.Exists(ctx, id)
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrInvalidID) {
		return fmt.Errorf("location %d: %w", id, shared.ErrNotFound)
	}
	return err
}

// EnsureSupplier fails with ErrNotFound when the supplier id is unknown.
func (r *Resolver) EnsureSupplier(ctx context.Context, id int64) error {
	err := r.suppliers.Exists(ctx, id)
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrInvalidID) {
		return fmt.Errorf("supplier %d: %w", id, shared.ErrNotFound)
	}
	return err
}
