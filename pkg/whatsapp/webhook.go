package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"whatstopic/pkg/whatsapp/types"
)

type webhookHandler struct {
	handlers map[string]func(context.Context, json.RawMessage) error
	mu       sync.RWMutex
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler() types.WebhookHandler {
	return &webhookHandler{
		handlers: make(map[string]func(context.Context, json.RawMessage) error),
	}
}

// ErrNoHandler is returned for events nobody registered for.
type ErrNoHandler struct {
	Event string
}

func (e *ErrNoHandler) Error() string {
	return fmt.Sprintf("no handler registered for event type: %s", e.Event)
}

func (wh *webhookHandler) Handle(ctx context.Context, event *types.WebhookEvent) error {
	wh.mu.RLock()
	handler, exists := wh.handlers[event.Event]
	wh.mu.RUnlock()

	if !exists {
		return &ErrNoHandler{Event: event.Event}
	}

	return handler(ctx, event.Payload)
}

func (wh *webhookHandler) RegisterEventHandler(eventType string, handler func(context.Context, json.RawMessage) error) {
	wh.mu.Lock()
	defer wh.mu.Unlock()

	wh.handlers[eventType] = handler
}
