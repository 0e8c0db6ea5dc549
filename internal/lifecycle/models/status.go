package models

import (
	dErrors "custodia/pkg/domain-errors"
)

// Status is the lifecycle state of a package. The forward sequence is
// strictly ordered with no backward transitions; StatusException sits
// outside the sequence and requires manual resolution.
//
//	awaiting_pickup -> received -> processing -> processed -> grouped
//	  -> shipped -> in_transit -> arrived -> delivered
type Status string

const (
	StatusAwaitingPickup Status = "awaiting_pickup"
	StatusReceived       Status = "received"
	StatusProcessing     Status = "processing"
	StatusProcessed      Status = "processed"
	StatusGrouped        Status = "grouped"
	StatusShipped        Status = "shipped"
	StatusInTransit      Status = "in_transit"
	StatusArrived        Status = "arrived"
	StatusDelivered      Status = "delivered"

	// StatusException is reachable from any non-terminal state and is
	// never left automatically.
	StatusException Status = "exception"
)

// forwardSequence fixes the ordering used by Rank and Next.
var forwardSequence = []Status{
	StatusAwaitingPickup,
	StatusReceived,
	StatusProcessing,
	StatusProcessed,
	StatusGrouped,
	StatusShipped,
	StatusInTransit,
	StatusArrived,
	StatusDelivered,
}

// ParseStatus validates a status string from an external source.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown package status %q", s)
	}
	return st, nil
}

// Valid reports whether the status is one of the known states.
func (s Status) Valid() bool {
	if s == StatusException {
		return true
	}
	return s.Rank() >= 0
}

// Rank returns the position in the forward sequence, or -1 for
// StatusException and unknown values.
func (s Status) Rank() int {
	for i, st := range forwardSequence {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the immediate successor in the forward sequence.
func (s Status) Next() (Status, bool) {
	r := s.Rank()
	if r < 0 || r+1 >= len(forwardSequence) {
		return "", false
	}
	return forwardSequence[r+1], true
}

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusDelivered
}

// CanAdvanceTo reports whether target is the immediate successor of s.
// Skipping ahead and moving backward are both rejected; entering and
// leaving StatusException is handled by dedicated operations, not here.
func (s Status) CanAdvanceTo(target Status) bool {
	next, ok := s.Next()
	return ok && next == target
}

func (s Status) String() string { return string(s) }
