// Package rerrors defines the closed set of error kinds propagated across
// the core pipeline, per the error handling design.
package rerrors

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error kinds a caller can branch on with errors.As.
type Kind string

const (
	AuthenticationFailed   Kind = "AuthenticationFailed"
	SignatureInvalid       Kind = "SignatureInvalid"
	SchemaInvalid          Kind = "SchemaInvalid"
	RateLimitExceeded      Kind = "RateLimitExceeded"
	BackpressureActive     Kind = "BackpressureActive"
	BufferFull             Kind = "BufferFull"
	OrderingViolation      Kind = "OrderingViolation"
	ReplayDetected         Kind = "ReplayDetected"
	StaleEvent             Kind = "StaleEvent"
	ACLViolation           Kind = "ACLViolation"
	InvariantViolation     Kind = "InvariantViolation"
	NoMatchingPolicy       Kind = "NoMatchingPolicy"
	PolicyAmbiguity        Kind = "PolicyAmbiguity"
	TargetResolutionFailed Kind = "TargetResolutionFailed"
	BoundaryViolation      Kind = "BoundaryViolation"
	AuditWriteFailed       Kind = "AuditWriteFailed"
	TrustStoreError        Kind = "TrustStoreError"
	DirectiveSendFailed    Kind = "DirectiveSendFailed"
)

// Error wraps an underlying error with an operation name and a fixed kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind, optionally wrapping a cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
