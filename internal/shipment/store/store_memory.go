package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"custodia/internal/shipment/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemoryShipmentStore stores shipments in memory for tests/dev.
type InMemoryShipmentStore struct {
	mu        sync.RWMutex
	shipments map[id.ShipmentID]*models.Shipment
	tracking  map[string]id.ShipmentID
}

// NewInMemory constructs an empty in-memory shipment store.
func NewInMemory() *InMemoryShipmentStore {
	return &InMemoryShipmentStore{
		shipments: make(map[id.ShipmentID]*models.Shipment),
		tracking:  make(map[string]id.ShipmentID),
	}
}

func cloneShipment(s *models.Shipment) *models.Shipment {
	cp := *s
	if s.ArchivedAt != nil {
		v := *s.ArchivedAt
		cp.ArchivedAt = &v
	}
	return &cp
}

func (s *InMemoryShipmentStore) Create(_ context.Context, shp *models.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shipments[shp.ID]; ok {
		return fmt.Errorf("shipment %s already exists: %w", shp.ID, sentinel.ErrConflict)
	}
	if _, ok := s.tracking[shp.TrackingCode]; ok {
		return fmt.Errorf("tracking code %s already taken: %w", shp.TrackingCode, sentinel.ErrConflict)
	}
	s.shipments[shp.ID] = cloneShipment(shp)
	s.tracking[shp.TrackingCode] = shp.ID
	return nil
}

func (s *InMemoryShipmentStore) Get(_ context.Context, shipmentID id.ShipmentID) (*models.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shp, ok := s.shipments[shipmentID]
	if !ok {
		return nil, fmt.Errorf("shipment %s: %w", shipmentID, sentinel.ErrNotFound)
	}
	return cloneShipment(shp), nil
}

// GetForUpdate is identical to Get here; the MemoryRunner's mutex
// provides the exclusion a row lock gives the Postgres store.
func (s *InMemoryShipmentStore) GetForUpdate(ctx context.Context, shipmentID id.ShipmentID) (*models.Shipment, error) {
	return s.Get(ctx, shipmentID)
}

func (s *InMemoryShipmentStore) Update(_ context.Context, shp *models.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shipments[shp.ID]; !ok {
		return fmt.Errorf("shipment %s: %w", shp.ID, sentinel.ErrNotFound)
	}
	s.shipments[shp.ID] = cloneShipment(shp)
	return nil
}

func (s *InMemoryShipmentStore) List(_ context.Context, includeArchived bool) ([]*models.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Shipment
	for _, shp := range s.shipments {
		if shp.Archived() && !includeArchived {
			continue
		}
		out = append(out, cloneShipment(shp))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
