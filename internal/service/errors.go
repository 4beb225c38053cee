package service

import (
	"context"
	"errors"
	"fmt"

	"mysterypack/internal/catalog"
	"mysterypack/internal/lock"
	"mysterypack/internal/storage"
)

// Sentinel errors. Concrete error types below wrap them so callers can match
// with errors.Is and still read the details with errors.As.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPackNotFound      = errors.New("pack not found")
	ErrOutcomeNotFound   = errors.New("outcome not found")
	ErrPackageNotFound   = errors.New("gem package not found")
	ErrNoActiveSeed      = errors.New("no active seed")
	ErrInvalidClientSeed = errors.New("invalid client seed")
	ErrInvalidTransition = errors.New("invalid redemption transition")
	ErrSeedNotRevealed   = errors.New("seed not revealed")
	ErrForbidden         = errors.New("forbidden")
	ErrTransient         = errors.New("transient failure")

	// ErrEmptyCatalog is re-exported so callers need not import catalog.
	ErrEmptyCatalog = catalog.ErrEmptyCatalog
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientFundsError carries the shortfall of a rejected debit.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %d, available %d, short by %d", e.Required, e.Available, e.Shortfall())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Shortfall is how many more gems the debit needed.
func (e *InsufficientFundsError) Shortfall() int64 {
	return e.Required - e.Available
}

// TransientError is returned once contention retries are exhausted. The
// client may retry with the same idempotency key.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: temporarily unavailable: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// IsRetryable reports whether err is lock or write contention that is safe to
// retry. Business failures are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return storage.IsBusy(err) ||
		errors.Is(err, storage.ErrConflict) ||
		errors.Is(err, lock.ErrNotAcquired) && !errors.Is(err, context.Canceled)
}
