// Package apperr defines the error taxonomy returned by the subscription engine.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for callers.
type Kind string

// Kind constants define the error categories.
const (
	// KindNotFound reports a referenced entity that does not exist.
	KindNotFound Kind = "not_found"
	// KindConflict reports a uniqueness or duplicate-state violation.
	KindConflict Kind = "conflict"
	// KindInvalidState reports an operation not allowed from the current state.
	KindInvalidState Kind = "invalid_state"
	// KindValidation reports malformed input.
	KindValidation Kind = "validation"
	// KindCapacityExceeded reports a pool ceiling violation.
	KindCapacityExceeded Kind = "capacity_exceeded"
	// KindInternal reports a storage or infrastructure failure.
	KindInternal Kind = "internal"
)

// Error is a typed engine error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind, so errors.Is(err, apperr.ErrConflict) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels usable with errors.Is.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrCapacityExceeded = &Error{Kind: KindCapacityExceeded}
)

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// InvalidState builds a KindInvalidState error.
func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a KindValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// CapacityExceeded builds a KindCapacityExceeded error.
func CapacityExceeded(format string, args ...any) *Error {
	return &Error{Kind: KindCapacityExceeded, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an infrastructure failure.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
