// Package errs defines the error taxonomy shared by every engine component.
// Errors are classified by Kind so that callers can decide whether a failure
// is fatal, retryable, or a normal outcome to skip past.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind uint8

const (
	Internal Kind = iota
	Config
	Network
	Upstream
	Protocol
	RateLimited
	InsufficientData
	OutOfOrder
	RiskRejected
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case Network:
		return "network"
	case Upstream:
		return "upstream"
	case Protocol:
		return "protocol"
	case RateLimited:
		return "rate_limited"
	case InsufficientData:
		return "insufficient_data"
	case OutOfOrder:
		return "out_of_order"
	case RiskRejected:
		return "risk_rejected"
	case NotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error carries a Kind plus the operation that produced it. Status and Body
// are filled for Upstream and Protocol errors so that log lines can include
// a sample of the offending response.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err, unwrapping as needed. Unclassified errors
// report Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
