// Package apperror defines the domain errors shared by every layer.
//
// Each AppError wraps one sentinel so callers can branch with errors.Is while
// the Message stays human-readable. Messages coming from the auth provider or
// the store are carried verbatim so the UI can show them as-is.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("Validation Error")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrBusy            = errors.New("busy")
	ErrUnavailable     = errors.New("unavailable")
	ErrUpstream        = errors.New("upstream error")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports an operation that is not allowed in the current state.
func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated carries the auth provider's message verbatim,
// e.g. "Invalid login credentials".
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Busy is returned when a workspace operation is already in flight.
func Busy(current string) *AppError {
	return &AppError{
		Err:     ErrBusy,
		Message: fmt.Sprintf("workspace is busy (%s)", current),
	}
}

// Unavailable wraps a connectivity failure: the remote collaborator could not
// be reached at all.
func Unavailable(service string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrUnavailable, cause),
		Message: fmt.Sprintf("%s is unreachable", service),
	}
}

// Upstream wraps a response the remote collaborator did send but that
// reports a failure. detail is the collaborator's own message.
func Upstream(service, detail string) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: fmt.Sprintf("%s: %s", service, detail),
	}
}
