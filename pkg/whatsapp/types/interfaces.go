package types

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// WAClient is the source platform surface used by the bridge.
type WAClient interface {
	SendText(ctx context.Context, chatID, text, replyTo string) (*SendMessageResponse, error)
	SendImage(ctx context.Context, chatID, path, caption, replyTo string) (*SendMessageResponse, error)
	SendVideo(ctx context.Context, chatID, path, caption, replyTo string) (*SendMessageResponse, error)
	SendDocument(ctx context.Context, chatID, path, caption, replyTo string) (*SendMessageResponse, error)
	SendVoice(ctx context.Context, chatID, path, replyTo string) (*SendMessageResponse, error)
	SendReaction(ctx context.Context, chatID, messageID, reaction string) (*SendMessageResponse, error)
	DownloadMedia(ctx context.Context, mediaURL string) (io.ReadCloser, int64, string, error)
	GetContact(ctx context.Context, contactID string) (*Contact, error)
	GetGroup(ctx context.Context, groupID string) (*Group, error)
	GetSessionStatus(ctx context.Context) (*Session, error)
	WaitForSessionReady(ctx context.Context, maxWaitTime time.Duration) error
}

// WebhookHandler dispatches incoming events by name.
type WebhookHandler interface {
	Handle(ctx context.Context, event *WebhookEvent) error
	RegisterEventHandler(eventType string, handler func(context.Context, json.RawMessage) error)
}
