package service

// Logging Standards for whatstopic
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent logging across the application.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldSession    = "session"
	LogFieldMessageID  = "message_id"
	LogFieldChatID     = "chat_id"
	LogFieldUserID     = "user_id"
	LogFieldTopicID    = "topic_id"
	LogFieldDeliveryID = "delivery_id"
	LogFieldQueueKey   = "queue_key"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"

	// Message and event fields
	LogFieldEvent     = "event"
	LogFieldKind      = "kind"
	LogFieldPlatform  = "platform"
	LogFieldDirection = "direction" // "inbound" or "outbound"
	LogFieldContent   = "content"   // verbose only
	LogFieldOutcome   = "outcome"
	LogFieldReason    = "reason"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// HTTP request fields
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldStatusCode = "status_code"

	// Error and debugging
	LogFieldErrorCode  = "error_code"
	LogFieldErrorClass = "error_class"
	LogFieldAttempt    = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: per-message flow, successful deliveries, duplicates and filtered items.
//
// INFO: startup/shutdown, topics created or renamed, conversations resumed,
// deliveries replaced by a notice.
//
// WARN: retries, fallbacks (sticker sent as image, voice sent as audio),
// dropped deliveries, suspended conversations, stuck queues.
//
// ERROR: store failures, invariant violations (duplicate topic for one chat),
// operator notices that could not be posted.
//
// FATAL: configuration required for startup is missing.

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Failed operations: "Failed to [operation]"
// Retrying operations: "Retrying [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
//
// Every delivery ends with exactly one line carrying LogFieldOutcome.
