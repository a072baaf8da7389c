package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatstopic/internal/constants"

	"go.mongodb.org/mongo-driver/mongo"
)

// dbRetryPolicy bounds how hard a store retries a single write.
type dbRetryPolicy struct {
	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

var defaultDBRetryPolicy = dbRetryPolicy{
	attempts:       constants.DefaultDatabaseRetryAttempts,
	initialBackoff: 50 * time.Millisecond,
	maxBackoff:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
}

// retryableDBOperation executes a database operation returning a value with retry logic
func retryableDBOperation[T any](ctx context.Context, policy dbRetryPolicy, operation func() (T, error), operationName string) (T, error) {
	var zero T
	var lastErr error

	maxAttempts := policy.attempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryableDBError(err) {
			return zero, fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
		}

		if attempt == maxAttempts {
			break
		}

		backoff := time.Duration(attempt) * policy.initialBackoff
		if backoff > policy.maxBackoff {
			backoff = policy.maxBackoff
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, lastErr)
}

// retryableDBOperationNoReturn executes a database operation that returns only an error with retry logic
func retryableDBOperationNoReturn(ctx context.Context, policy dbRetryPolicy, operation func() error, operationName string) error {
	_, err := retryableDBOperation(ctx, policy, func() (struct{}, error) {
		return struct{}{}, operation()
	}, operationName)
	return err
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "database is locked"),
		strings.Contains(errStr, "database table is locked"),
		strings.Contains(errStr, "disk I/O error"),
		strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "no such host"):
		return true
	}

	return false
}
