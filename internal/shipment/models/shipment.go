// Package models defines shipments and the derivation of shipment
// status from member packages. Shipment status is a view over the
// members, never independent truth; only aggregates are stored.
package models

import (
	"strings"
	"time"

	lifecycle "custodia/internal/lifecycle/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Shipment groups packages for joint transit. PackageCount,
// TotalWeightGrams and TotalValueCents are recomputed on every
// membership change; Status is never stored.
type Shipment struct {
	ID               id.ShipmentID
	TrackingCode     string
	Destination      string
	ServiceLevel     string
	PackageCount     int
	TotalWeightGrams int64
	TotalValueCents  int64
	ArchivedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewShipment validates destination and service level and assigns a
// tracking code. Aggregates start at zero; Recompute fills them once
// members are attached.
func NewShipment(destination, serviceLevel string) (*Shipment, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "destination is required")
	}
	serviceLevel = strings.TrimSpace(serviceLevel)
	if serviceLevel == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "service level is required")
	}

	code, err := lifecycle.NewTrackingCode("SHP")
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate tracking code")
	}

	now := time.Now()
	return &Shipment{
		ID:           id.NewShipmentID(),
		TrackingCode: code,
		Destination:  destination,
		ServiceLevel: serviceLevel,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Recompute refreshes the stored aggregates from the current members.
func (s *Shipment) Recompute(members []*lifecycle.Package) {
	s.PackageCount = len(members)
	s.TotalWeightGrams = 0
	s.TotalValueCents = 0
	for _, pkg := range members {
		s.TotalWeightGrams += pkg.WeightGrams
		s.TotalValueCents += pkg.DeclaredValueCents
	}
}

// Archived reports whether every member has been delivered and the
// shipment was closed out.
func (s *Shipment) Archived() bool { return s.ArchivedAt != nil }

// DeriveStatus computes shipment status from member statuses.
//
// The shipment is delivered only when every member is delivered.
// Otherwise it is the earliest status in the forward sequence among
// members, with exception dominating: one held-up package holds up the
// whole shipment's view. A shipment whose members were all unlinked
// reads as grouped, its state at creation.
func DeriveStatus(members []lifecycle.Status) lifecycle.Status {
	if len(members) == 0 {
		return lifecycle.StatusGrouped
	}

	allDelivered := true
	earliest := lifecycle.StatusDelivered
	for _, st := range members {
		if st == lifecycle.StatusException {
			return lifecycle.StatusException
		}
		if st != lifecycle.StatusDelivered {
			allDelivered = false
		}
		if st.Rank() < earliest.Rank() {
			earliest = st
		}
	}
	if allDelivered {
		return lifecycle.StatusDelivered
	}
	return earliest
}

// Statuses projects member packages onto their statuses.
func Statuses(members []*lifecycle.Package) []lifecycle.Status {
	out := make([]lifecycle.Status, len(members))
	for i, pkg := range members {
		out[i] = pkg.Status
	}
	return out
}
