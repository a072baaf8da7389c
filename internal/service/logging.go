package service

import (
	"context"
	"strconv"
	"time"

	"whatstopic/internal/models"
	"whatstopic/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx so log helpers print unmasked identifiers.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// ChatField returns a chat id, masked unless verbose.
func ChatField(ctx context.Context, chatID string) string {
	if IsVerboseLogging(ctx) {
		return chatID
	}
	return privacy.MaskChatID(chatID)
}

// MessageField returns a message id, masked unless verbose.
func MessageField(ctx context.Context, messageID string) string {
	if IsVerboseLogging(ctx) {
		return messageID
	}
	return privacy.MaskMessageID(messageID)
}

// UserField returns a destination user id, masked unless verbose.
func UserField(ctx context.Context, userID int64) string {
	if IsVerboseLogging(ctx) {
		return strconv.FormatInt(userID, 10)
	}
	return privacy.MaskUserID(userID)
}

// SanitizeContent completely hides message content for privacy
func SanitizeContent(content string) string {
	if content == "" {
		return ""
	}
	return "[hidden]"
}

// envelopeFields are the standard fields for a delivery log line.
func envelopeFields(ctx context.Context, item *models.PendingDelivery) logrus.Fields {
	env := item.Envelope
	fields := logrus.Fields{
		LogFieldDeliveryID: item.ID,
		LogFieldDirection:  string(env.Direction),
		LogFieldKind:       string(env.Kind),
		LogFieldChatID:     ChatField(ctx, env.SourceChatID),
		LogFieldMessageID:  MessageField(ctx, env.OriginID),
		LogFieldQueueKey:   env.QueueKey(),
	}
	if env.DestinationTopicID != 0 {
		fields[LogFieldTopicID] = env.DestinationTopicID
	}
	if IsVerboseLogging(ctx) && env.TextOrCaption != "" {
		fields[LogFieldContent] = env.TextOrCaption
	}
	return fields
}

// LogOutcome writes the single terminal log line of a delivery.
func LogOutcome(ctx context.Context, logger *logrus.Logger, item *models.PendingDelivery, outcome models.Outcome, reason string, err error) {
	fields := envelopeFields(ctx, item)
	fields[LogFieldOutcome] = string(outcome)
	fields[LogFieldAttempt] = item.Attempts
	fields[LogFieldDuration] = time.Since(item.EnqueuedAt).Milliseconds()
	if reason != "" {
		fields[LogFieldReason] = reason
	}

	entry := logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}

	switch outcome {
	case models.OutcomeDelivered, models.OutcomeDuplicate, models.OutcomeFiltered:
		entry.Debug("Delivery finished")
	case models.OutcomeNotice:
		entry.Info("Delivery replaced by notice")
	default:
		entry.Warn("Delivery not completed")
	}
}
