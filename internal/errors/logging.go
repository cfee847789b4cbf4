package errors

import (
	"errors"

	"github.com/sirupsen/logrus"

	"vaultlite/internal/privacy"
)

// Fields returns the structured field set for an error: code, retryable
// flag, severity and any attached context. This is the observability hook;
// the storage core itself never writes logs, it hands these fields to the
// calling layer's logger.
func Fields(err error) logrus.Fields {
	fields := logrus.Fields{}

	var appErr *AppError
	if errors.As(err, &appErr) {
		fields["error_code"] = appErr.Code
		fields["retryable"] = appErr.Retryable
		fields["severity"] = appErr.Severity
		for k, v := range appErr.Context {
			fields[k] = v
		}
	} else if err != nil {
		fields["error_code"] = ErrCodeInternalError
		fields["retryable"] = false
		fields["severity"] = SeverityError
	}

	return fields
}

// Logger wraps logrus.Logger with structured error logging
type Logger struct {
	*logrus.Logger
}

// NewLogger creates a new structured logger
func NewLogger() *Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	return &Logger{Logger: logger}
}

// LogError logs an error with structured context. The error text is
// scrubbed of key material before it reaches the log stream.
func (l *Logger) LogError(err error, message string, extra ...logrus.Fields) {
	entry := l.entryFor(err, extra)
	entry.Error(message)
}

// LogWarn logs a warning with structured context
func (l *Logger) LogWarn(err error, message string, extra ...logrus.Fields) {
	entry := l.entryFor(err, extra)
	entry.Warn(message)
}

func (l *Logger) entryFor(err error, extra []logrus.Fields) *logrus.Entry {
	entry := l.Logger.WithFields(Fields(err))
	if err != nil {
		entry = entry.WithField("error", privacy.RedactKeyMaterial(err.Error()))
	}
	for _, f := range extra {
		entry = entry.WithFields(f)
	}
	return entry
}

// LogRetryableError logs a retryable error at warn level, non-retryable at error level
func (l *Logger) LogRetryableError(err error, message string, extra ...logrus.Fields) {
	if IsRetryable(err) {
		l.LogWarn(err, message, extra...)
	} else {
		l.LogError(err, message, extra...)
	}
}
