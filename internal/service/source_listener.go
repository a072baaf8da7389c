package service

import (
	"context"
	"encoding/json"
	"errors"

	"whatstopic/pkg/whatsapp"
	"whatstopic/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// SourceEventHandler consumes one WAHA event.
type SourceEventHandler interface {
	HandleSourceEvent(ctx context.Context, event *types.WebhookEvent) error
}

// SourceListener routes WAHA events, from the websocket stream or the
// webhook, to the bridge by event name.
type SourceListener struct {
	dispatch types.WebhookHandler
	logger   *logrus.Logger
}

func NewSourceListener(handler SourceEventHandler, logger *logrus.Logger) *SourceListener {
	if logger == nil {
		logger = logrus.New()
	}
	l := &SourceListener{dispatch: whatsapp.NewWebhookHandler(), logger: logger}

	forward := func(name string) func(context.Context, json.RawMessage) error {
		return func(ctx context.Context, payload json.RawMessage) error {
			return handler.HandleSourceEvent(ctx, &types.WebhookEvent{Event: name, Payload: payload})
		}
	}
	for _, name := range []string{types.EventMessage, types.EventMessageAny, types.EventMessageReaction} {
		l.dispatch.RegisterEventHandler(name, forward(name))
	}
	l.dispatch.RegisterEventHandler(types.EventSessionStatus, l.sessionStatus)
	return l
}

// Handle dispatches one event. Events nobody handles are ignored.
func (l *SourceListener) Handle(ctx context.Context, event *types.WebhookEvent) error {
	err := l.dispatch.Handle(ctx, event)
	var noHandler *whatsapp.ErrNoHandler
	if errors.As(err, &noHandler) {
		l.logger.WithField(LogFieldEvent, event.Event).Debug("Ignoring WhatsApp event")
		return nil
	}
	return err
}

// Run consumes events until the channel closes.
func (l *SourceListener) Run(ctx context.Context, events <-chan types.WebhookEvent) {
	for event := range events {
		event := event
		if err := l.Handle(ctx, &event); err != nil {
			l.logger.WithError(err).WithField(LogFieldEvent, event.Event).Warn("Failed to handle WhatsApp event")
		}
	}
}

func (l *SourceListener) sessionStatus(_ context.Context, payload json.RawMessage) error {
	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &status); err != nil {
		return err
	}
	l.logger.WithField("status", status.Status).Info("WhatsApp session status changed")
	return nil
}
