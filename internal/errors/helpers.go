package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Sentinels for errors.Is checks across packages.
var (
	ErrMediaTooLarge         = New(ErrCodeMediaTooLarge, "media exceeds size ceiling")
	ErrTopicUnavailable      = New(ErrCodeTopicUnavailable, "topic unavailable")
	ErrConversationSuspended = New(ErrCodeConversationSuspended, "conversation suspended")
	ErrQueueFull             = New(ErrCodeQueueFull, "delivery queue full")
	ErrShuttingDown          = New(ErrCodeShuttingDown, "bridge is shutting down")
)

// Destination and source API descriptions that mean the bridge is misconfigured
// for this conversation rather than the message being bad.
var configFailureMarkers = []string{
	"chat not found",
	"message thread not found",
	"topic_deleted",
	"topic_closed",
	"not enough rights",
	"bot was kicked",
	"bot is not a member",
	"have no rights",
	"chat_admin_required",
	"session not found",
}

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithClass(Classify(err)).
		WithUserMessage("Database operation failed")
}

// NewAPIError creates an API error for external service calls
func NewAPIError(service, endpoint string, statusCode int, err error) *AppError {
	var code ErrorCode
	switch service {
	case "whatsapp":
		code = ErrCodeWhatsAppAPI
	case "telegram":
		code = ErrCodeTelegramAPI
	default:
		code = ErrCodeInternalError
	}

	appErr := Wrap(err, code, fmt.Sprintf("%s API call failed", service)).
		WithContext("service", service).
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	return appErr.WithClass(classifyStatus(statusCode, err))
}

func classifyStatus(statusCode int, err error) Class {
	switch {
	case statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout:
		return ClassTransient
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden || statusCode == http.StatusNotFound:
		return ClassPermanentConfig
	case statusCode == 0:
		return Classify(err)
	}

	if err != nil {
		desc := strings.ToLower(err.Error())
		for _, marker := range configFailureMarkers {
			if strings.Contains(desc, marker) {
				return ClassPermanentConfig
			}
		}
	}
	return ClassPermanentContent
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewMediaError creates a media processing error. The class follows the cause.
func NewMediaError(operation, mediaType string, err error) *AppError {
	return Wrap(err, ErrCodeMediaDownload, fmt.Sprintf("media %s failed", operation)).
		WithContext("operation", operation).
		WithContext("media_type", mediaType).
		WithClass(Classify(err)).
		WithUserMessage("Media processing failed")
}

// NewMediaTooLargeError reports media above its per-kind ceiling.
func NewMediaTooLargeError(mediaType string, size, limit int64) *AppError {
	return New(ErrCodeMediaTooLarge, fmt.Sprintf("%s media exceeds %d bytes", mediaType, limit)).
		WithContext("media_type", mediaType).
		WithContext("size_bytes", size).
		WithContext("limit_bytes", limit).
		WithUserMessage(fmt.Sprintf("media too large (limit %d MB)", limit/(1024*1024)))
}

// NewUnsupportedContentError reports content the bridge cannot represent.
func NewUnsupportedContentError(kind string) *AppError {
	return New(ErrCodeUnsupportedContent, fmt.Sprintf("unsupported content: %s", kind)).
		WithContext("kind", kind).
		WithUserMessage("unsupported content")
}

// NewPanicError converts a recovered panic value into a non-retryable failure.
func NewPanicError(recovered interface{}) *AppError {
	return New(ErrCodePanic, fmt.Sprintf("recovered panic: %v", recovered))
}

// Classify maps any error to its failure class.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Class != "" {
		return appErr.Class
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return ClassTransient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassTransient
	}

	return ClassInternal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	code := GetCode(err)

	switch code {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeAuthorization:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimit, ErrCodeQueueFull:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeWhatsAppAPI, ErrCodeTelegramAPI, ErrCodeMediaDownload, ErrCodeTopicUnavailable:
		if IsRetryable(err) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration, ErrCodeShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written by operator endpoints on failure.
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		response.Error.Code = appErr.Code
		response.Error.Message = GetUserMessage(err)
		if len(appErr.Context) > 0 {
			publicContext := make(map[string]interface{})
			for k, v := range appErr.Context {
				if k != "password" && k != "token" && k != "secret" {
					publicContext[k] = v
				}
			}
			if len(publicContext) > 0 {
				response.Error.Context = publicContext
			}
		}
	} else {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
	}

	return response
}
