package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type
type ErrorCode string

const (
	// Encryption errors
	ErrCodeWrongKey            ErrorCode = "WRONG_KEY"
	ErrCodeCorruptedDatabase   ErrorCode = "CORRUPTED_DATABASE"
	ErrCodeIncompatibleVersion ErrorCode = "INCOMPATIBLE_VERSION"
	ErrCodeKeyDerivation       ErrorCode = "KEY_DERIVATION"

	// Pool errors
	ErrCodePoolTimeout   ErrorCode = "POOL_TIMEOUT"
	ErrCodePoolClosed    ErrorCode = "POOL_CLOSED"
	ErrCodePoolExhausted ErrorCode = "POOL_EXHAUSTED"

	// Rotation errors
	ErrCodeRotationFailed ErrorCode = "ROTATION_FAILED"

	// Validation errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"

	// Internal errors
	ErrCodeIOError       ErrorCode = "IO_ERROR"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// Severity indicates how urgent an error is for monitoring and alerting
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AppError represents a structured, classified error. It carries an error
// code, a retryable flag and a severity for the observability layer.
// Secret material (keys, passphrases, derived bytes) must never be placed
// in Message or Context.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Retryable bool                   `json:"retryable"`
	Severity  Severity               `json:"severity"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new AppError with severity derived from the code
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: defaultRetryable(code),
		Severity:  defaultSeverity(code),
	}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Cause:     err,
		Retryable: defaultRetryable(code),
		Severity:  defaultSeverity(code),
	}
}

// WrapRetryable wraps an error and marks it as retryable
func WrapRetryable(err error, code ErrorCode, message string) *AppError {
	appErr := Wrap(err, code, message)
	appErr.Retryable = true
	return appErr
}

func defaultRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodePoolTimeout, ErrCodePoolExhausted:
		return true
	default:
		return false
	}
}

func defaultSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeWrongKey, ErrCodeCorruptedDatabase, ErrCodeIncompatibleVersion, ErrCodeRotationFailed:
		return SeverityCritical
	case ErrCodePoolTimeout, ErrCodePoolExhausted:
		return SeverityWarning
	case ErrCodePoolClosed:
		return SeverityInfo
	default:
		return SeverityError
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// GetSeverity extracts the severity from an error
func GetSeverity(err error) Severity {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Severity
	}
	return SeverityError
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
