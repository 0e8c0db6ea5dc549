// Package domain holds the typed identifiers shared across custodia.
//
// IDs are distinct named types over uuid.UUID so the compiler rejects
// cross-type assignment (a PackageID can never be passed where a
// ShipmentID is expected). Parse functions enforce the invariant that
// IDs are valid, non-nil UUIDs at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "custodia/pkg/domain-errors"
)

// PackageID identifies a single physical package.
type PackageID uuid.UUID

// ShipmentID identifies a consolidated shipment.
type ShipmentID uuid.UUID

// CustomerID identifies the owning customer of a package.
type CustomerID uuid.UUID

// NewPackageID returns a fresh random PackageID.
func NewPackageID() PackageID { return PackageID(uuid.New()) }

// NewShipmentID returns a fresh random ShipmentID.
func NewShipmentID() ShipmentID { return ShipmentID(uuid.New()) }

// NewCustomerID returns a fresh random CustomerID.
func NewCustomerID() CustomerID { return CustomerID(uuid.New()) }

func (id PackageID) String() string  { return uuid.UUID(id).String() }
func (id ShipmentID) String() string { return uuid.UUID(id).String() }
func (id CustomerID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the ID is the zero UUID.
func (id PackageID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ShipmentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id CustomerID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParsePackageID parses and validates a package ID string.
func ParsePackageID(s string) (PackageID, error) {
	u, err := parseUUID(s, "package id")
	return PackageID(u), err
}

// ParseShipmentID parses and validates a shipment ID string.
func ParseShipmentID(s string) (ShipmentID, error) {
	u, err := parseUUID(s, "shipment id")
	return ShipmentID(u), err
}

// ParseCustomerID parses and validates a customer ID string.
func ParseCustomerID(s string) (CustomerID, error) {
	u, err := parseUUID(s, "customer id")
	return CustomerID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be the nil UUID")
	}
	return u, nil
}
