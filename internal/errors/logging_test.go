package errors

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields(t *testing.T) {
	err := New(ErrCodePoolTimeout, "timed out").WithContext("timeout", "5s")
	fields := Fields(err)

	assert.Equal(t, ErrCodePoolTimeout, fields["error_code"])
	assert.Equal(t, true, fields["retryable"])
	assert.Equal(t, SeverityWarning, fields["severity"])
	assert.Equal(t, "5s", fields["timeout"])
}

func TestFieldsPlainError(t *testing.T) {
	fields := Fields(fmt.Errorf("something broke"))

	assert.Equal(t, ErrCodeInternalError, fields["error_code"])
	assert.Equal(t, false, fields["retryable"])
}

func TestFieldsNil(t *testing.T) {
	fields := Fields(nil)
	assert.Empty(t, fields)
}

func TestLoggerRedactsKeyMaterial(t *testing.T) {
	logger := NewLogger()
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	// Simulate a driver error that echoed SQL containing a key literal.
	leaky := fmt.Errorf(`near "x'deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef'": syntax error`)
	logger.LogError(Wrap(leaky, ErrCodeIOError, "pragma failed"), "open failed")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.NotContains(t, out, "deadbeef")
	assert.Contains(t, out, "***")
	assert.Contains(t, out, "IO_ERROR")
}

func TestLogRetryableErrorLevels(t *testing.T) {
	logger := NewLogger()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)

	logger.LogRetryableError(New(ErrCodePoolTimeout, "t"), "acquire failed")
	assert.Contains(t, buf.String(), `"level":"warning"`)

	buf.Reset()
	logger.LogRetryableError(New(ErrCodeWrongKey, "t"), "open failed")
	assert.Contains(t, buf.String(), `"level":"error"`)
}
