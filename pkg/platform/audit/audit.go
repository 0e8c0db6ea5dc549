// Package audit defines the append-only custody audit trail. Every
// state transition and every verification attempt produces exactly one
// entry; nothing in this package mutates or deletes entries inside the
// retention window.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entity types recorded in the trail.
const (
	EntityPackage  = "package"
	EntityShipment = "shipment"
	EntityAudit    = "audit"
)

// Actions recorded in the trail.
const (
	ActionPackageCreated      = "package_created"
	ActionPackageTransitioned = "package_transitioned"
	ActionExceptionMarked     = "exception_marked"
	ActionExceptionResolved   = "exception_resolved"
	ActionPackageUnlinked     = "package_unlinked"
	ActionShipmentCreated     = "shipment_created"
	ActionShipmentDeparted    = "shipment_departed"
	ActionShipmentArrived     = "shipment_arrived"
	ActionShipmentArchived    = "shipment_archived"
	ActionCodeIssued          = "code_issued"
	ActionCodeReissued        = "code_reissued"
	ActionVerificationAttempt = "verification_attempt"
	ActionAuditPurged         = "audit_purged"
)

// Decision values for entries that carry an outcome.
const (
	DecisionSuccess = "success"
	DecisionFailure = "failure"
)

// Entry is one immutable audit record. Keep it transport-agnostic so
// stores and sinks can fan out.
type Entry struct {
	ID         uuid.UUID
	EntityType string
	EntityID   string
	Action     string
	PrevState  string
	NewState   string
	Actor      string
	// Subject carries the presented identity claim for verification
	// attempts; empty for plain state transitions.
	Subject   string
	Decision  string
	Reason    string
	RequestID string
	Timestamp time.Time
}

// Filter narrows a Query. Zero fields match everything; Limit 0 means
// no limit.
type Filter struct {
	EntityType string
	EntityID   string
	Action     string
	Actor      string
	Decision   string
	From       time.Time
	To         time.Time
	Limit      int
}

// Matches reports whether the entry satisfies the filter. Shared by the
// in-memory store and by tests asserting query semantics.
func (f Filter) Matches(e Entry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Decision != "" && e.Decision != f.Decision {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Store is the audit trail contract. Append is the only write; the
// retention reaper is the only caller of PurgeOlderThan and logs its
// own purge as a fresh entry.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter) ([]Entry, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
