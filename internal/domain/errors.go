package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad or missing caller input
	ErrValidation = errors.New("validation error")

	// ErrAuthorization marks a caller identity that may not use the operation
	ErrAuthorization = errors.New("authorization error")

	// ErrNotFound marks an unknown job or client
	ErrNotFound = errors.New("not found")

	// ErrTransientExternal marks an unreachable dependency; the queue redelivers
	ErrTransientExternal = errors.New("transient external error")

	// ErrPermanentJobFailure marks a job that will never succeed on retry
	ErrPermanentJobFailure = errors.New("permanent job failure")

	// ErrJobAlreadyTerminal is returned when a redelivered task targets a finished job
	ErrJobAlreadyTerminal = errors.New("job already in a terminal status")

	// ErrInvalidPayload is returned when a queued message body is malformed
	ErrInvalidPayload = errors.New("invalid task payload")
)

// Validationf wraps ErrValidation with a caller-facing message
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Permanentf wraps ErrPermanentJobFailure with a message
func Permanentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermanentJobFailure, fmt.Sprintf(format, args...))
}

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransientExternal) match any RetryableError
func (e *RetryableError) Is(target error) bool {
	return target == ErrTransientExternal
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsTransient reports whether err should be left to queue redelivery
func IsTransient(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable) || errors.Is(err, ErrTransientExternal)
}
