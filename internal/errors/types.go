package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"

	// Database errors
	ErrCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	ErrCodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	ErrCodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// External service errors
	ErrCodeWhatsAppAPI   ErrorCode = "WHATSAPP_API"
	ErrCodeTelegramAPI   ErrorCode = "TELEGRAM_API"
	ErrCodeMediaDownload ErrorCode = "MEDIA_DOWNLOAD"
	ErrCodeMediaTooLarge ErrorCode = "MEDIA_TOO_LARGE"
	ErrCodeTranscode     ErrorCode = "TRANSCODE"

	// Bridge errors
	ErrCodeTopicUnavailable      ErrorCode = "TOPIC_UNAVAILABLE"
	ErrCodeConversationSuspended ErrorCode = "CONVERSATION_SUSPENDED"
	ErrCodeDuplicateMapping      ErrorCode = "DUPLICATE_MAPPING"
	ErrCodeUnsupportedContent    ErrorCode = "UNSUPPORTED_CONTENT"
	ErrCodeQueueFull             ErrorCode = "QUEUE_FULL"
	ErrCodeShuttingDown          ErrorCode = "SHUTTING_DOWN"

	// Validation errors
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Security errors
	ErrCodeAuthentication ErrorCode = "AUTHENTICATION"
	ErrCodeAuthorization  ErrorCode = "AUTHORIZATION"
	ErrCodeRateLimit      ErrorCode = "RATE_LIMIT"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
	ErrCodePanic         ErrorCode = "PANIC"
)

// Class decides what the bridge does with a failed delivery.
type Class string

const (
	// ClassTransient failures are retried with backoff.
	ClassTransient Class = "transient"
	// ClassPermanentContent failures are surfaced as a notice and never retried.
	ClassPermanentContent Class = "permanent_content"
	// ClassPermanentConfig failures suspend the conversation and alert the operator.
	ClassPermanentConfig Class = "permanent_config"
	// ClassInvariantViolation is logged loudly and resolved deterministically.
	ClassInvariantViolation Class = "invariant_violation"
	// ClassInternal covers everything else, including recovered panics.
	ClassInternal Class = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Code        ErrorCode              `json:"code"`
	Class       Class                  `json:"class"`
	Message     string                 `json:"message"`
	Cause       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Retryable   bool                   `json:"retryable"`
	UserMessage string                 `json:"user_message,omitempty"`
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

// Is matches on error code so code sentinels work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets a user-friendly message
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// WithClass overrides the failure class.
func (e *AppError) WithClass(class Class) *AppError {
	e.Class = class
	e.Retryable = class == ClassTransient
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	class := defaultClass(code)
	return &AppError{
		Code:      code,
		Class:     class,
		Message:   message,
		Retryable: class == ClassTransient,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *AppError {
	class := defaultClass(code)
	return &AppError{
		Code:      code,
		Class:     class,
		Message:   message,
		Cause:     err,
		Retryable: class == ClassTransient,
	}
}

// WrapRetryable wraps an error and marks it as retryable
func WrapRetryable(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Class:     ClassTransient,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

func defaultClass(code ErrorCode) Class {
	switch code {
	case ErrCodeTimeout, ErrCodeRateLimit, ErrCodeDatabaseConnection:
		return ClassTransient
	case ErrCodeMediaTooLarge, ErrCodeUnsupportedContent, ErrCodeTranscode, ErrCodeValidationFailed, ErrCodeInvalidInput:
		return ClassPermanentContent
	case ErrCodeInvalidConfig, ErrCodeMissingConfig, ErrCodeAuthentication, ErrCodeAuthorization, ErrCodeConversationSuspended:
		return ClassPermanentConfig
	case ErrCodeDuplicateMapping:
		return ClassInvariantViolation
	default:
		return ClassInternal
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

// GetUserMessage extracts a user-friendly message from an error
func GetUserMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.UserMessage != "" {
		return appErr.UserMessage
	}
	return "An internal error occurred"
}
