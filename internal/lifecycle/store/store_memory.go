package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"custodia/internal/lifecycle/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemoryPackageStore stores packages in memory for tests/dev.
type InMemoryPackageStore struct {
	mu       sync.RWMutex
	packages map[id.PackageID]*models.Package
	tracking map[string]id.PackageID
}

// NewInMemory constructs an empty in-memory package store.
func NewInMemory() *InMemoryPackageStore {
	return &InMemoryPackageStore{
		packages: make(map[id.PackageID]*models.Package),
		tracking: make(map[string]id.PackageID),
	}
}

func clonePackage(p *models.Package) *models.Package {
	cp := *p
	cp.HeldStatus = clonePtr(p.HeldStatus)
	cp.ShipmentID = clonePtr(p.ShipmentID)
	cp.CodeIssuedAt = clonePtr(p.CodeIssuedAt)
	cp.CodeExpiresAt = clonePtr(p.CodeExpiresAt)
	cp.CodeUsedAt = clonePtr(p.CodeUsedAt)
	cp.LockedUntil = clonePtr(p.LockedUntil)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (s *InMemoryPackageStore) Create(_ context.Context, pkg *models.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packages[pkg.ID]; ok {
		return fmt.Errorf("package %s already exists: %w", pkg.ID, sentinel.ErrConflict)
	}
	if _, ok := s.tracking[pkg.TrackingCode]; ok {
		return fmt.Errorf("tracking code %s already taken: %w", pkg.TrackingCode, sentinel.ErrConflict)
	}
	s.packages[pkg.ID] = clonePackage(pkg)
	s.tracking[pkg.TrackingCode] = pkg.ID
	return nil
}

func (s *InMemoryPackageStore) Get(_ context.Context, pkgID id.PackageID) (*models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pkg, ok := s.packages[pkgID]
	if !ok {
		return nil, fmt.Errorf("package %s: %w", pkgID, sentinel.ErrNotFound)
	}
	return clonePackage(pkg), nil
}

// GetForUpdate is identical to Get here; the MemoryRunner's mutex
// provides the exclusion a row lock gives the Postgres store.
func (s *InMemoryPackageStore) GetForUpdate(ctx context.Context, pkgID id.PackageID) (*models.Package, error) {
	return s.Get(ctx, pkgID)
}

func (s *InMemoryPackageStore) Update(_ context.Context, pkg *models.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packages[pkg.ID]; !ok {
		return fmt.Errorf("package %s: %w", pkg.ID, sentinel.ErrNotFound)
	}
	s.packages[pkg.ID] = clonePackage(pkg)
	return nil
}

func (s *InMemoryPackageStore) ListByShipment(_ context.Context, shipmentID id.ShipmentID) ([]*models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var members []*models.Package
	for _, pkg := range s.packages {
		if pkg.ShipmentID != nil && *pkg.ShipmentID == shipmentID {
			members = append(members, clonePackage(pkg))
		}
	}
	return members, nil
}

func (s *InMemoryPackageStore) ActiveFingerprintExists(_ context.Context, fingerprint string, now time.Time) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pkg := range s.packages {
		if pkg.CodeFingerprint == fingerprint && pkg.HasActiveCodeAt(now) {
			return true, nil
		}
	}
	return false, nil
}
