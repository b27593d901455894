package types

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("not allowed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrBanned     = fmt.Errorf("user is banned: %w", ErrForbidden)

	ErrHangoutFull       = fmt.Errorf("hangout is full: %w", ErrConflict)
	ErrDuplicateRequest  = fmt.Errorf("already requested to join: %w", ErrConflict)
	ErrRequestRejected   = fmt.Errorf("join request was declined by the host: %w", ErrConflict)
	ErrInvalidTransition = fmt.Errorf("participant is not pending: %w", ErrConflict)
	ErrAlreadyResolved   = fmt.Errorf("report is already resolved: %w", ErrConflict)
	ErrHangoutExpired    = fmt.Errorf("hangout has ended: %w", ErrConflict)
	ErrEmailTaken        = fmt.Errorf("email is already registered: %w", ErrConflict)
)

// ValidationError is returned before any store call when user input is missing or out of range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
