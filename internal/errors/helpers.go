package errors

import (
	"fmt"
	"time"
)

// Common error creators for frequent use cases

// NewWrongKeyError creates the non-retryable wrong-key error. The key
// itself is never part of the error; only the database path is recorded.
func NewWrongKeyError(path string, cause error) *AppError {
	return Wrap(cause, ErrCodeWrongKey, "key cannot decrypt database header").
		WithContext("path", path)
}

// NewCorruptedDatabaseError creates an error for a database whose header
// decrypts but fails structural validation
func NewCorruptedDatabaseError(path string, cause error) *AppError {
	return Wrap(cause, ErrCodeCorruptedDatabase, "database failed structural validation").
		WithContext("path", path)
}

// NewIncompatibleVersionError creates an error for a cipher version mismatch
func NewIncompatibleVersionError(expected, found string) *AppError {
	return New(ErrCodeIncompatibleVersion, fmt.Sprintf("cipher version mismatch: expected %s, found %s", expected, found)).
		WithContext("expected", expected).
		WithContext("found", found)
}

// NewKeyDerivationError creates an error for invalid KDF input or parameters
func NewKeyDerivationError(reason string) *AppError {
	return New(ErrCodeKeyDerivation, reason)
}

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field)
}

// NewPoolTimeoutError creates a retryable acquisition timeout error
func NewPoolTimeoutError(timeout time.Duration) *AppError {
	return New(ErrCodePoolTimeout, fmt.Sprintf("connection acquisition timed out after %s", timeout)).
		WithContext("timeout", timeout.String())
}

// NewPoolClosedError creates the error returned for acquisitions against a
// closed or draining pool
func NewPoolClosedError() *AppError {
	return New(ErrCodePoolClosed, "pool is closed")
}

// NewRotationError creates an error for a failed rotation, recording the
// phase the state machine reached
func NewRotationError(phase string, cause error) *AppError {
	return Wrap(cause, ErrCodeRotationFailed, fmt.Sprintf("rotation failed during %s", phase)).
		WithContext("phase", phase)
}

// NewIOError wraps a filesystem error; retryable is left to the caller's
// policy via WrapRetryable when the condition is transient
func NewIOError(operation string, cause error) *AppError {
	return Wrap(cause, ErrCodeIOError, fmt.Sprintf("%s failed", operation)).
		WithContext("operation", operation)
}
