// Package errors provides structured error handling for vibemcp.
//
// Every user-facing failure carries a Kind so the operation façade can map
// it to a structured error record without inspecting message text.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the external boundary.
type Kind string

const (
	// KindInputInvalid indicates a name, path, or parameter violated
	// validation rules.
	KindInputInvalid Kind = "input_invalid"
	// KindAuthDenied indicates a rejected credential or a write attempted
	// in read-only mode.
	KindAuthDenied Kind = "authorization_denied"
	// KindNotFound indicates a document, project, or subscription does
	// not exist.
	KindNotFound Kind = "not_found"
	// KindConflict indicates the target of a create operation already
	// exists.
	KindConflict Kind = "conflict"
	// KindIOTransient indicates a per-file read/stat/decode failure that
	// is logged and skipped, never fatal.
	KindIOTransient Kind = "io_transient"
	// KindDeliveryFailed indicates a webhook delivery failure; recorded
	// in the delivery log, never propagated to the originating write.
	KindDeliveryFailed Kind = "delivery_failed"
	// KindFatalInit indicates an unrecoverable startup failure.
	KindFatalInit Kind = "fatal_init"
	// KindInternal indicates an unexpected internal error.
	KindInternal Kind = "internal"
)

// Error is the structured error type for vibemcp.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by Kind so errors.Is works with sentinel kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a structured error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a structured error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a structured error around an existing error.
// Returns nil if err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// InputInvalid creates an input-validation error.
func InputInvalid(message string) *Error {
	return New(KindInputInvalid, message)
}

// AuthDenied creates an authorization error.
func AuthDenied(message string) *Error {
	return New(KindAuthDenied, message)
}

// NotFound creates a not-found error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Conflict creates a conflict error.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// KindOf returns the Kind of err if it is (or wraps) a structured Error,
// KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
