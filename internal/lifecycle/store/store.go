package store

import (
	"context"
	"time"

	"custodia/internal/lifecycle/models"
	id "custodia/pkg/domain"
)

// Error Contract:
// All store methods follow this pattern:
// - Return sentinel.ErrNotFound when the requested package does not exist
// - Return sentinel.ErrConflict on unique constraint violations
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
//
// Stores are pure I/O; transition rules, lockout math and code policy
// live in the services.

// PackageStore persists packages.
type PackageStore interface {
	Create(ctx context.Context, pkg *models.Package) error
	Get(ctx context.Context, pkgID id.PackageID) (*models.Package, error)
	// GetForUpdate loads the package holding a row lock for the
	// enclosing transaction, serializing concurrent verifications.
	GetForUpdate(ctx context.Context, pkgID id.PackageID) (*models.Package, error)
	Update(ctx context.Context, pkg *models.Package) error
	ListByShipment(ctx context.Context, shipmentID id.ShipmentID) ([]*models.Package, error)
	// ActiveFingerprintExists reports whether any package warehouse-wide
	// holds an active (unused, unexpired) code with this fingerprint.
	ActiveFingerprintExists(ctx context.Context, fingerprint string, now time.Time) (bool, error)
}
