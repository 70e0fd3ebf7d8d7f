// Package apperr defines the error kinds surfaced by vidchat operations.
//
// Every error a caller can act on carries a [Kind]. Transport layers map
// kinds to status codes with [KindOf]; everything else is treated as an
// internal failure.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind int

const (
	// Internal is the zero Kind, used for errors that carry no kind.
	Internal Kind = iota
	// Validation means the input was rejected before any state changed.
	Validation
	// NotFound means the video or session does not exist.
	NotFound
	// Forbidden means the viewer may not access the resource.
	Forbidden
	// NotReady means the video exists but is not processed yet.
	NotReady
	// QuotaExceeded means the user's daily usage limit is reached.
	QuotaExceeded
	// Upstream means the text-generation backend failed. Chat converts it
	// to a fallback answer; summaries return it.
	Upstream
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case NotReady:
		return "not_ready"
	case QuotaExceeded:
		return "quota_exceeded"
	case Upstream:
		return "upstream_generation"
	default:
		return "internal"
	}
}

// Error is a kinded error with a caller-facing message and an optional
// underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Validationf is shorthand for New(Validation, ...).
func Validationf(format string, args ...any) *Error {
	return New(Validation, format, args...)
}

// NotFoundf is shorthand for New(NotFound, ...).
func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, format, args...)
}

// Forbiddenf is shorthand for New(Forbidden, ...).
func Forbiddenf(format string, args ...any) *Error {
	return New(Forbidden, format, args...)
}

// NotReadyf is shorthand for New(NotReady, ...).
func NotReadyf(format string, args ...any) *Error {
	return New(NotReady, format, args...)
}

// KindOf returns the kind of the first [*Error] in err's chain, or
// [Internal] when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err's chain contains an [*Error] of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// QuotaError is returned when a user has exhausted their daily allowance.
type QuotaError struct {
	Used  int
	Limit int
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily chat limit reached (%d/%d)", e.Used, e.Limit)
}

// Quota returns a QuotaExceeded error wrapping a [*QuotaError].
func Quota(used, limit int) *Error {
	return &Error{Kind: QuotaExceeded, Msg: "quota exceeded", Err: &QuotaError{Used: used, Limit: limit}}
}
