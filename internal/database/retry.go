package database

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"vaultlite/internal/constants"
	"vaultlite/internal/errors"
)

// RetryableOperation executes a database operation with bounded retries for
// transient conditions. WrongKey and CorruptedDatabase are never retried and
// surface immediately. PoolTimeout and transient I/O are retried with
// linear backoff.
func RetryableOperation(ctx context.Context, operation func() error, operationName string) error {
	var lastErr error

	maxAttempts := constants.DefaultDatabaseRetryAttempts
	initialBackoff := time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsTransient(err) {
			return errors.Wrap(err, errors.GetCode(err), operationName+" failed (non-retryable)")
		}

		if attempt == maxAttempts {
			break
		}

		backoff := time.Duration(attempt) * initialBackoff
		if backoff > time.Duration(constants.DefaultMaxBackoffMs)*time.Millisecond {
			backoff = time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return errors.WrapRetryable(lastErr, errors.GetCode(lastErr), operationName+" failed after retries")
}

// IsTransient reports whether an error is worth retrying. Classified errors
// carry their own retryable flag; raw driver errors fall back to string
// matching for the usual transient sqlite conditions.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := err.Error()

	// Lock contention clears on its own.
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return true
	}

	// Disk I/O errors might be transient.
	if strings.Contains(msg, "disk I/O error") {
		return true
	}

	// Constraint and schema errors never succeed on retry.
	return false
}
