package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ContextKey represents keys used for context values
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs
	RequestIDKey ContextKey = "request_id"
	// DeliveryIDKey is the context key for queued delivery IDs
	DeliveryIDKey ContextKey = "delivery_id"
	// StartTimeKey is the context key for request start time
	StartTimeKey ContextKey = "start_time"
)

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithDeliveryID tags the context with the queued delivery being processed
func WithDeliveryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, DeliveryIDKey, id)
}

// GetDeliveryID extracts the delivery ID from context
func GetDeliveryID(ctx context.Context) string {
	if id, ok := ctx.Value(DeliveryIDKey).(string); ok {
		return id
	}
	return ""
}

// WithStartTime adds a start time to the context
func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, StartTimeKey, startTime)
}

// Duration calculates the duration since the start time in context
func Duration(ctx context.Context) time.Duration {
	startTime, ok := ctx.Value(StartTimeKey).(time.Time)
	if !ok || startTime.IsZero() {
		return 0
	}
	return time.Since(startTime)
}
