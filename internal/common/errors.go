package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrExternalService = errors.New("external service error")

	// ErrWalletNotFound is returned for passcode-gated operations on a user
	// that never completed wallet setup, so callers can prompt for setup.
	ErrWalletNotFound = errors.New("wallet not set up")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// ValidationError names the input field that violated a constraint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError is a shorthand used by services and handlers.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError reports a rejected state transition together with the state
// the record is currently in, so clients can reconcile instead of retrying.
type ConflictError struct {
	Current string
	Reason  string
}

func (e *ConflictError) Error() string {
	if e.Current == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s (current status: %s)", e.Reason, e.Current)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflictError is a shorthand used by services.
func NewConflictError(current, reason string) error {
	return &ConflictError{Current: current, Reason: reason}
}
