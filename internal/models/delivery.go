package models

import (
	"time"

	"github.com/google/uuid"
)

// PendingDelivery is one unit of work in a per-conversation queue
type PendingDelivery struct {
	ID          string
	Envelope    *MessageEnvelope
	Attempts    int
	MaxAttempts int
	EnqueuedAt  time.Time

	// Steps already emitted for multi-artifact kinds, so a retry resumes
	// instead of duplicating earlier artifacts.
	CompletedSteps int
}

// NewPendingDelivery wraps an envelope for queueing.
func NewPendingDelivery(env *MessageEnvelope, maxAttempts int) *PendingDelivery {
	return &PendingDelivery{
		ID:          uuid.NewString(),
		Envelope:    env,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now(),
	}
}

// DeliveryResult describes what was written on the receiving platform
type DeliveryResult struct {
	// Primary artifact id on the destination platform (Telegram message id).
	DestinationMessageID int64
	// Primary artifact id on the source platform (WhatsApp message id).
	SourceMessageID string
	Artifacts       int
	// Notice is set when a placeholder was sent instead of the content.
	Notice bool
}

// Outcome labels the terminal state of a delivery in logs and metrics
type Outcome string

const (
	OutcomeDelivered  Outcome = "delivered"
	OutcomeNotice     Outcome = "notice"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeFiltered   Outcome = "filtered"
	OutcomeDropped    Outcome = "dropped"
	OutcomeSuspended  Outcome = "suspended"
	OutcomeUnroutable Outcome = "unroutable"
)
