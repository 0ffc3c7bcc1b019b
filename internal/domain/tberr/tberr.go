// Package tberr defines the error taxonomy shared by every mutating
// operation in the engine.
package tberr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for callers that need to react to it
// (HTTP status mapping, event-loop retry policy, CLI exit codes).
type Kind int

const (
	// KindNotFound means the resource is absent, or access is intentionally
	// hidden (existence-hiding on read).
	KindNotFound Kind = iota
	// KindForbidden means the resource exists but the caller lacks permission.
	KindForbidden
	// KindBadRequest means malformed input, a type-system violation, an
	// illegal attach target, or an illegal time.
	KindBadRequest
	// KindConflict means the operation would violate an invariant.
	KindConflict
	// KindNotAuth means the session is absent/expired or upstream revoked
	// authorization.
	KindNotAuth
	// KindTryAgain means a transient upstream or storage failure; the
	// caller may retry.
	KindTryAgain
	// KindFatal means an invariant believed impossible was observed.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	case KindNotAuth:
		return "not_auth"
	case KindTryAgain:
		return "try_again"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified engine error.
type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.err }

// New constructs an Error of the given Kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf constructs an Error of the given Kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given Kind wrapping an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, err: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// NotFound is a convenience constructor for KindNotFound.
func NotFound(msg string) error { return New(KindNotFound, msg) }

// Forbidden is a convenience constructor for KindForbidden.
func Forbidden(msg string) error { return New(KindForbidden, msg) }

// BadRequest is a convenience constructor for KindBadRequest.
func BadRequest(msg string) error { return New(KindBadRequest, msg) }

// Conflict is a convenience constructor for KindConflict.
func Conflict(msg string) error { return New(KindConflict, msg) }

// NotAuth is a convenience constructor for KindNotAuth.
func NotAuth(msg string) error { return New(KindNotAuth, msg) }

// TryAgain is a convenience constructor for KindTryAgain.
func TryAgain(msg string) error { return New(KindTryAgain, msg) }

// Fatal is a convenience constructor for KindFatal. Fatal errors indicate a
// believed-impossible invariant violation and should page someone.
func Fatal(msg string) error { return New(KindFatal, msg) }
