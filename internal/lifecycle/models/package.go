package models

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Package is a single physical good under warehouse custody. Status is
// mutated only through the lifecycle service; the release-code fields
// are mutated only by the code issuer and the verification service.
type Package struct {
	ID           id.PackageID
	TrackingCode string
	Status       Status
	// HeldStatus remembers the state the package held before it was
	// marked exception, so resolution can never replay completed work.
	HeldStatus *Status

	CustomerID         id.CustomerID
	SuiteCode          string
	Description        string
	WeightGrams        int64
	DeclaredValueCents int64

	ShipmentID *id.ShipmentID

	// Release-code fields. Only a salted one-way hash is ever stored;
	// the fingerprint is a keyed digest used for the warehouse-wide
	// active-code uniqueness check.
	CodeHash        string
	CodeFingerprint string
	CodeIssuedAt    *time.Time
	CodeExpiresAt   *time.Time
	CodeUsedAt      *time.Time
	FailedAttempts  int
	LockedUntil     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPackage creates a package at intake with domain invariant
// validation. The tracking code is assigned here and never changes.
func NewPackage(customerID id.CustomerID, suiteCode, description string, weightGrams, declaredValueCents int64) (*Package, error) {
	if customerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "customer id is required")
	}
	if suiteCode == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "suite code cannot be empty")
	}
	if weightGrams <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "weight must be positive")
	}
	if declaredValueCents < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "declared value cannot be negative")
	}

	trackingCode, err := NewTrackingCode("PKG")
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Package{
		ID:                 id.NewPackageID(),
		TrackingCode:       trackingCode,
		Status:             StatusAwaitingPickup,
		CustomerID:         customerID,
		SuiteCode:          suiteCode,
		Description:        description,
		WeightGrams:        weightGrams,
		DeclaredValueCents: declaredValueCents,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// IsLockedAt reports whether verification is locked out at now.
func (p *Package) IsLockedAt(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}

// HasActiveCodeAt reports whether an unused, unexpired release code is
// stored for the package. At most one active code exists at a time.
func (p *Package) HasActiveCodeAt(now time.Time) bool {
	if p.CodeHash == "" || p.CodeUsedAt != nil {
		return false
	}
	return p.CodeExpiresAt != nil && now.Before(*p.CodeExpiresAt)
}

// AttemptsRemaining returns how many failed verifications remain before
// lockout, for front-desk messaging.
func (p *Package) AttemptsRemaining(threshold int) int {
	remaining := threshold - p.FailedAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// OwnedBy reports whether the presented identity claim matches the
// package's owning customer suite.
func (p *Package) OwnedBy(suiteCode string) bool {
	return p.SuiteCode != "" && p.SuiteCode == suiteCode
}
