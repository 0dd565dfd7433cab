// Package store persists eSIM entities. Implementations must serialize
// writes per entity: Update takes a mutation closure and applies it under a
// per-entity lock (memory) or row lock (postgres).
package store

import (
	"context"

	"simgate/internal/esim/models"
	id "simgate/pkg/domain"
)

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	OrderID id.OrderID
	UserID  id.UserID
	ICCID   id.ICCID
	State   models.State
}

// Store is the durable eSIM record store.
//
// Create returns sentinel.ErrConflict when an entity already exists for the
// same (OrderID, SKU) pair; this is the idempotency guard the orchestrator
// relies on. Lookups return sentinel.ErrNotFound when no entity matches.
type Store interface {
	Create(ctx context.Context, e *models.Esim) error
	GetByID(ctx context.Context, esimID id.EsimID) (*models.Esim, error)
	GetByOrderLine(ctx context.Context, orderID id.OrderID, sku id.SKU) (*models.Esim, error)
	GetByICCID(ctx context.Context, iccid id.ICCID) (*models.Esim, error)
	GetByVendorOrderRef(ctx context.Context, ref id.VendorOrderRef) (*models.Esim, error)
	List(ctx context.Context, f Filter) ([]*models.Esim, error)

	// Update loads the entity, runs mutate under the per-entity write lock,
	// and persists the result. Returning an error from mutate aborts the
	// update and propagates unchanged.
	Update(ctx context.Context, esimID id.EsimID, mutate func(*models.Esim) error) (*models.Esim, error)
}
