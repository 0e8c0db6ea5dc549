// Package store persists shipments. Member packages live in the
// lifecycle package store; this store holds only the shipment record
// and its denormalized aggregates.
package store

import (
	"context"

	"custodia/internal/shipment/models"
	id "custodia/pkg/domain"
)

// ShipmentStore is the persistence contract for shipments.
//
// Implementations return sentinel.ErrNotFound for unknown shipments and
// sentinel.ErrConflict for tracking-code collisions. Status is never
// persisted; callers derive it from member packages.
type ShipmentStore interface {
	Create(ctx context.Context, shp *models.Shipment) error
	Get(ctx context.Context, shipmentID id.ShipmentID) (*models.Shipment, error)
	// GetForUpdate locks the shipment row for the enclosing
	// transaction, serializing membership changes and departures.
	GetForUpdate(ctx context.Context, shipmentID id.ShipmentID) (*models.Shipment, error)
	Update(ctx context.Context, shp *models.Shipment) error
	List(ctx context.Context, includeArchived bool) ([]*models.Shipment, error)
}
