package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultlite/internal/errors"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"classified retryable", errors.NewPoolTimeoutError(0), true},
		{"classified non-retryable", errors.NewWrongKeyError("/tmp/x.db", nil), false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"database locked", fmt.Errorf("database is locked"), true},
		{"table locked", fmt.Errorf("database table is locked"), true},
		{"disk io error", fmt.Errorf("disk I/O error"), true},
		{"constraint violation", fmt.Errorf("UNIQUE constraint failed: entries.id"), false},
		{"syntax error", fmt.Errorf("near \"SELEC\": syntax error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestRetryableOperationSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := RetryableOperation(context.Background(), func() error {
		calls++
		return nil
	}, "noop")

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryableOperationStopsOnNonRetryable(t *testing.T) {
	calls := 0
	wrongKey := errors.NewWrongKeyError("/tmp/x.db", nil)
	err := RetryableOperation(context.Background(), func() error {
		calls++
		return wrongKey
	}, "open")

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
	assert.Equal(t, errors.ErrCodeWrongKey, errors.GetCode(err))
	assert.Contains(t, err.Error(), "open failed (non-retryable)")
}

func TestRetryableOperationHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryableOperation(ctx, func() error {
		calls++
		return nil
	}, "noop")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}
