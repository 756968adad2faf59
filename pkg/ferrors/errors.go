// Package ferrors defines the error-kind taxonomy shared by every core
// subsystem (transactions, the committer, subscriptions, search) and the
// propagation rules that go with each kind.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can decide how to react without
// string-matching messages.
type Kind string

const (
	BadRequest        Kind = "bad_request"
	Unauthenticated   Kind = "unauthenticated"
	Forbidden         Kind = "forbidden"
	NotFound          Kind = "not_found"
	OCC               Kind = "occ"
	OutOfRetention    Kind = "out_of_retention"
	Overloaded        Kind = "overloaded"
	RateLimited       Kind = "rate_limited"
	PaginationLimit   Kind = "pagination_limit"
	LeaseLost         Kind = "lease_lost"
	Internal          Kind = "internal"
)

// Error is a Flux error: a short machine-readable Kind, a human message, and
// an optional wrapped cause. Retry and fatality decisions are made on Kind,
// never on Message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Public renders the error for an end user, redacting the wrapped cause and
// any internal detail when redact is true. Internal errors are collapsed to
// a generic message; every other kind keeps its message, since those are
// meant to be actionable by the caller.
func (e *Error) Public(redact bool) string {
	if redact && e.Kind == Internal {
		return "internal error"
	}
	return e.Message
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// As reports whether err is (or wraps) a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or Internal if err is not a *Error. Used
// by the committer and API boundary to decide retry/fatal behavior for
// errors that may have originated outside this package.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return Internal
}

// Retryable reports whether the caller's orchestrator should retry locally.
// Only OCC is retried by the commit orchestrator itself; every other
// recoverable kind (Overloaded, RateLimited) is surfaced for the external
// caller to retry.
func Retryable(err error) bool {
	return KindOf(err) == OCC
}

// Fatal reports whether err should trigger a process-wide shutdown signal.
// Only LeaseLost is fatal: losing the single-writer lease means this process
// can no longer safely append to the log.
func Fatal(err error) bool {
	return KindOf(err) == LeaseLost
}
