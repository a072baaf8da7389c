package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeInvalidConfig,
				Message: "configuration is invalid",
			},
			expected: "INVALID_CONFIG: configuration is invalid",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeDatabaseConnection,
				Message: "failed to connect to database",
				Cause:   errors.New("connection refused"),
			},
			expected: "DATABASE_CONNECTION: failed to connect to database: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternalError, "something went wrong")

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestAppError_IsMatchesCode(t *testing.T) {
	err := NewMediaTooLargeError("video", 30<<20, 16<<20)
	wrapped := fmt.Errorf("publish: %w", err)

	assert.True(t, errors.Is(wrapped, ErrMediaTooLarge))
	assert.False(t, errors.Is(wrapped, ErrTopicUnavailable))
}

func TestAppError_WithContext(t *testing.T) {
	err := New(ErrCodeValidationFailed, "validation failed")

	result := err.WithContext("field", "chat_id").WithContext("value", "bogus")

	assert.Equal(t, err, result)
	assert.Len(t, err.Context, 2)
	assert.Equal(t, "chat_id", err.Context["field"])
}

func TestNew_DefaultClass(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		class     Class
		retryable bool
	}{
		{ErrCodeTimeout, ClassTransient, true},
		{ErrCodeRateLimit, ClassTransient, true},
		{ErrCodeMediaTooLarge, ClassPermanentContent, false},
		{ErrCodeUnsupportedContent, ClassPermanentContent, false},
		{ErrCodeInvalidConfig, ClassPermanentConfig, false},
		{ErrCodeConversationSuspended, ClassPermanentConfig, false},
		{ErrCodeDuplicateMapping, ClassInvariantViolation, false},
		{ErrCodePanic, ClassInternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "x")
			assert.Equal(t, tt.class, err.Class)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestWrapRetryable(t *testing.T) {
	cause := errors.New("temporary failure")
	err := WrapRetryable(cause, ErrCodeWhatsAppAPI, "WhatsApp API error")

	assert.Equal(t, ErrCodeWhatsAppAPI, err.Code)
	assert.Equal(t, ClassTransient, err.Class)
	assert.True(t, err.Retryable)
}

func TestWithClass(t *testing.T) {
	err := New(ErrCodeTelegramAPI, "send failed").WithClass(ClassTransient)
	assert.True(t, err.Retryable)

	err.WithClass(ClassPermanentConfig)
	assert.False(t, err.Retryable)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable AppError", WrapRetryable(errors.New("temp"), ErrCodeTelegramAPI, "api"), true},
		{"wrapped retryable AppError", fmt.Errorf("emit: %w", WrapRetryable(errors.New("temp"), ErrCodeTelegramAPI, "api")), true},
		{"non-retryable AppError", New(ErrCodeInvalidInput, "bad input"), false},
		{"standard error", errors.New("standard error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestGetCodeAndUserMessage(t *testing.T) {
	assert.Equal(t, ErrCodeValidationFailed, GetCode(New(ErrCodeValidationFailed, "x")))
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))
	assert.Equal(t, ErrCodeInternalError, GetCode(nil))

	assert.Equal(t, "Please login again", GetUserMessage(New(ErrCodeAuthentication, "auth").WithUserMessage("Please login again")))
	assert.Equal(t, "An internal error occurred", GetUserMessage(errors.New("plain")))
}
