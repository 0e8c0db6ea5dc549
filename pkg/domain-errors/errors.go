// Package domainerrors provides coded domain errors for custodia.
//
// Services return these so transports can translate outcomes into
// responses without string matching. Infrastructure layers return
// sentinel errors (pkg/platform/sentinel) instead; services wrap those
// into coded errors at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the kind of domain error. Custody-transfer codes map
// one-to-one to the verification and lifecycle failure taxonomy; the
// generic codes cover validation and infrastructure wrapping.
type Code string

const (
	// Lifecycle and consolidation codes.
	CodeInvalidTransition  Code = "invalid_transition"
	CodePackageNotFound    Code = "package_not_found"
	CodeShipmentNotFound   Code = "shipment_not_found"
	CodePackageNotReady    Code = "package_not_ready"
	CodeShipmentInTransit  Code = "shipment_in_transit"
	CodeCodeSpaceExhausted Code = "code_space_exhausted"

	// Verification codes.
	CodeNotArrived       Code = "not_arrived"
	CodeAlreadyDelivered Code = "already_delivered"
	CodeLocked           Code = "locked"
	CodeIdentityMismatch Code = "identity_mismatch"
	CodeExpired          Code = "expired"
	CodeAlreadyUsed      Code = "code_already_used"
	CodeInvalidCode      Code = "invalid_code"

	// Generic codes.
	CodeValidation         Code = "validation"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvariantViolation Code = "invariant_violation"
	CodeBadRequest         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded domain error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost code carried by err, or CodeInternal if
// err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
