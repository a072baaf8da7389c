package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"whatstopic/internal/retry"
	"whatstopic/pkg/whatsapp/types"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const maxEventBytes = 4 << 20

// EventStream reads WAHA events from its websocket endpoint and reconnects
// with backoff until the context ends.
type EventStream struct {
	baseURL string
	apiKey  string
	session string
	events  []string
	logger  *logrus.Logger
	backoff *retry.Backoff
}

func NewEventStream(config types.ClientConfig, logger *logrus.Logger) *EventStream {
	if logger == nil {
		logger = logrus.New()
	}
	return &EventStream{
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		session: config.SessionName,
		events:  []string{types.EventMessageAny, types.EventMessageReaction},
		logger:  logger,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2,
			MaxAttempts:  1,
			Jitter:       true,
		}),
	}
}

func (s *EventStream) streamURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid WAHA base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported WAHA URL scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + types.EndpointEvents

	q := url.Values{}
	q.Set("session", s.session)
	for _, event := range s.events {
		q.Add("events", event)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Events starts the stream. The channel is closed after ctx is cancelled.
func (s *EventStream) Events(ctx context.Context) <-chan types.WebhookEvent {
	out := make(chan types.WebhookEvent, 64)
	go func() {
		defer close(out)
		attempt := 0
		for {
			connected, err := s.connectAndRead(ctx, out)
			if ctx.Err() != nil {
				return
			}
			if connected {
				attempt = 0
			}
			attempt++
			delay := s.backoff.GetNextDelay(attempt)
			s.logger.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("WhatsApp event stream disconnected, reconnecting")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()
	return out
}

func (s *EventStream) connectAndRead(ctx context.Context, out chan<- types.WebhookEvent) (bool, error) {
	streamURL, err := s.streamURL()
	if err != nil {
		return false, err
	}

	header := http.Header{}
	if s.apiKey != "" {
		header.Set("X-Api-Key", s.apiKey)
	}

	conn, _, err := websocket.Dial(ctx, streamURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return false, fmt.Errorf("failed to dial event stream: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(maxEventBytes)

	s.logger.WithField("session", s.session).Info("Connected to WhatsApp event stream")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
			}
			return true, err
		}

		var event types.WebhookEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.WithError(err).Warn("Dropping undecodable WhatsApp event")
			continue
		}
		if event.Session != "" && s.session != "" && event.Session != s.session {
			continue
		}

		select {
		case out <- event:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}
