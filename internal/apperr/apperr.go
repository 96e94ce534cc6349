// Package apperr defines the error kinds shared by the lending contexts.
//
// Every error produced by a use case either is, or wraps, one of the
// sentinel kinds below so that callers can classify it with errors.Is.
// The transport layer maps kinds to status codes; nothing below it
// should care about HTTP.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrBusinessRule        = errors.New("business rule violation")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrConflict            = errors.New("conflict")
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
)

// Error pairs a kind with a human readable message. The message is what
// clients see; for business rule violations it is the rule's reason.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Is reports kind equality so errors.Is(err, ErrNotFound) works through wrapping.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NotFound reports a missing entity, e.g. NotFound("book", id).
func NotFound(entity string, id fmt.Stringer) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// BusinessRule carries a rule engine rejection. reason is returned verbatim.
func BusinessRule(reason string) *Error {
	return &Error{Kind: ErrBusinessRule, Message: reason}
}

func InvalidState(reason string) *Error {
	return &Error{Kind: ErrInvalidState, Message: reason}
}

// Invariant signals a broken entity invariant. Seeing one at runtime
// means a programming error or an unguarded race.
func Invariant(format string, args ...any) *Error {
	return &Error{Kind: ErrInvariantViolation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// Message returns the client-facing message of err, falling back to
// err.Error() for errors that did not originate here.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
