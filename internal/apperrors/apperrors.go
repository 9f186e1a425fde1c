// Package apperrors defines the typed error taxonomy used across the engine
// (spec §7), so callers can branch on error kind instead of parsing messages.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy's buckets.
type Kind string

const (
	// KindTransientExternal covers HTTP timeouts and bus disconnects that are
	// worth retrying with backoff before escalating.
	KindTransientExternal Kind = "TRANSIENT_EXTERNAL"
	// KindTerminalExternal covers external failures that have exhausted their
	// retry budget or are not retryable at all.
	KindTerminalExternal Kind = "TERMINAL_EXTERNAL"
	// KindContract covers malformed plans, missing required input, or an
	// unknown actionVerb.
	KindContract Kind = "CONTRACT"
	// KindLifecycleViolation covers an operation attempted against an agent
	// or step already in a terminal or incompatible state.
	KindLifecycleViolation Kind = "LIFECYCLE_VIOLATION"
	// KindPlacementUnresolved covers a step dependency whose source isn't in
	// the StepLocationRegistry.
	KindPlacementUnresolved Kind = "PLACEMENT_UNRESOLVED"
	// KindSignalAbort covers a deliberate abort signal reverting a step to
	// PENDING; not treated as a failure.
	KindSignalAbort Kind = "SIGNAL_ABORT"
)

// Error is a typed, wrapped error carrying a Kind for caller dispatch.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// TransientExternal wraps err as a retryable external failure.
func TransientExternal(op string, err error) *Error { return newErr(KindTransientExternal, op, err) }

// TerminalExternal wraps err as a non-retryable external failure.
func TerminalExternal(op string, err error) *Error { return newErr(KindTerminalExternal, op, err) }

// Contract wraps err as a malformed-input/unknown-verb failure.
func Contract(op string, err error) *Error { return newErr(KindContract, op, err) }

// LifecycleViolation wraps err as an operation-on-wrong-state failure.
func LifecycleViolation(op string, err error) *Error { return newErr(KindLifecycleViolation, op, err) }

// PlacementUnresolved wraps err as an unregistered-dependency failure.
func PlacementUnresolved(op string, err error) *Error {
	return newErr(KindPlacementUnresolved, op, err)
}

// SignalAbort wraps err as a deliberate, non-failure abort signal.
func SignalAbort(op string, err error) *Error { return newErr(KindSignalAbort, op, err) }

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, if any, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// HTTPStatus maps a Kind to the HTTP status code the API layer returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindContract:
		return 400
	case KindLifecycleViolation:
		return 409
	case KindPlacementUnresolved:
		return 404
	case KindTransientExternal, KindTerminalExternal:
		return 502
	case KindSignalAbort:
		return 200
	default:
		return 500
	}
}
