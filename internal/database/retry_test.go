package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = dbRetryPolicy{attempts: 3, initialBackoff: time.Millisecond, maxBackoff: 5 * time.Millisecond}

func TestRetryableDBOperation_SucceedsAfterLockedErrors(t *testing.T) {
	calls := 0
	value, err := retryableDBOperation(context.Background(), fastPolicy, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("database is locked")
		}
		return 42, nil
	}, "count")

	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.Equal(t, 3, calls)
}

func TestRetryableDBOperation_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := retryableDBOperationNoReturn(context.Background(), fastPolicy, func() error {
		calls++
		return errors.New("UNIQUE constraint failed: documents.collection")
	}, "insert document")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert document failed (non-retryable)")
	assert.Equal(t, 1, calls)
}

func TestRetryableDBOperation_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retryableDBOperationNoReturn(context.Background(), fastPolicy, func() error {
		calls++
		return errors.New("database is locked")
	}, "upsert document")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert document failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestRetryableDBOperation_CancelledBeforeFirstCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retryableDBOperationNoReturn(ctx, fastPolicy, func() error {
		calls++
		return nil
	}, "delete document")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetryableDBOperation_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := dbRetryPolicy{attempts: 3, initialBackoff: time.Second, maxBackoff: time.Second}

	calls := 0
	err := retryableDBOperationNoReturn(ctx, slow, func() error {
		calls++
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		return errors.New("database is locked")
	}, "upsert document")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryableDBError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"locked", errors.New("database is locked"), true},
		{"table locked", errors.New("database table is locked: documents"), true},
		{"disk io", errors.New("disk I/O error"), true},
		{"refused", errors.New("dial tcp: connection refused"), true},
		{"cancelled", context.Canceled, false},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), false},
		{"constraint", errors.New("UNIQUE constraint failed"), false},
		{"schema", errors.New("no such table: documents"), false},
		{"mixed case is not matched", errors.New("Database Is Locked"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryableDBError(tt.err))
		})
	}
}
