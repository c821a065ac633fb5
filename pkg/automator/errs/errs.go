// Package errs defines the typed error taxonomy shared by every core
// subsystem (store, vault, executor, scheduler) and translated by the
// control-plane adapters into their native surface (HTTP status, MCP error
// payload).
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the distinct error classes the core surfaces.
type Kind string

const (
	NotFound             Kind = "not_found"
	Conflict             Kind = "conflict"
	Validation           Kind = "validation"
	ExecutionError       Kind = "execution_error"
	Timeout              Kind = "timeout"
	CredentialUnavailable Kind = "credential_unavailable"
	StorageError         Kind = "storage_error"
	Internal             Kind = "internal"
)

// Error carries a Kind alongside the usual wrapped message so adapters can
// branch on it without string-sniffing.
type Error struct {
	Kind    Kind
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

// New builds a Kind-tagged error with no underlying cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a Kind-tagged error around an underlying cause.
func Wrap(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NotFoundf is a convenience constructor for the common not_found case.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf is a convenience constructor for the common conflict case.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: Conflict, Message: fmt.Sprintf(format, args...)}
}

// Validationf is a convenience constructor for the common validation case.
func Validationf(format string, args ...any) error {
	return &Error{Kind: Validation, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to Internal when err carries
// no *Error in its chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
