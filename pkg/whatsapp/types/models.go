package types

import (
	"encoding/json"
	"strings"
	"time"
)

// SessionStatus represents the current state of a WhatsApp session
type SessionStatus string

const (
	SessionStatusStarting SessionStatus = "STARTING"
	SessionStatusScanQR   SessionStatus = "SCAN_QR_CODE"
	SessionStatusWorking  SessionStatus = "WORKING"
	SessionStatusStopped  SessionStatus = "STOPPED"
	SessionStatusFailed   SessionStatus = "FAILED"
)

// Session represents a WhatsApp session
type Session struct {
	Name   string        `json:"name"`
	Status SessionStatus `json:"status"`
	Me     *struct {
		ID       string `json:"id"`
		PushName string `json:"pushName"`
	} `json:"me,omitempty"`
}

// WebhookEvent is the envelope WAHA sends over webhooks and the websocket stream.
type WebhookEvent struct {
	ID        string          `json:"id,omitempty"`
	Event     string          `json:"event"`
	Session   string          `json:"session"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// MediaInfo describes an attachment WAHA already downloaded.
type MediaInfo struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype"`
	Filename string `json:"filename"`
	Error    string `json:"error,omitempty"`
}

// ReplyInfo identifies the message a payload quotes.
type ReplyInfo struct {
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
	Body        string `json:"body,omitempty"`
}

// LocationInfo is a shared pin.
type LocationInfo struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description,omitempty"`
}

// RawData carries engine-specific fields used for kind detection.
type RawData struct {
	Type       string `json:"type"`
	NotifyName string `json:"notifyName"`
	IsAnimated bool   `json:"isAnimated"`
	Size       int64  `json:"size"`
}

// ReactionInfo is the body of a message.reaction event.
type ReactionInfo struct {
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}

// MessagePayload represents a message or reaction payload from WAHA
type MessagePayload struct {
	ID          string        `json:"id"`
	Timestamp   int64         `json:"timestamp"`
	From        string        `json:"from"`
	FromMe      bool          `json:"fromMe"`
	To          string        `json:"to"`
	Participant string        `json:"participant,omitempty"`
	Body        string        `json:"body"`
	HasMedia    bool          `json:"hasMedia"`
	Media       *MediaInfo    `json:"media,omitempty"`
	ReplyTo     *ReplyInfo    `json:"replyTo,omitempty"`
	Location    *LocationInfo `json:"location,omitempty"`
	VCards      []string      `json:"vCards,omitempty"`
	Reaction    *ReactionInfo `json:"reaction,omitempty"`
	Data        RawData       `json:"_data"`
}

// ChatID returns the conversation the message belongs to. For messages the
// account sent itself, the peer is in To.
func (m *MessagePayload) ChatID() string {
	if m.FromMe {
		return m.To
	}
	return m.From
}

// SenderID returns the author: the participant in groups, else the chat.
func (m *MessagePayload) SenderID() string {
	if m.Participant != "" {
		return m.Participant
	}
	return m.From
}

// IsGroupMessage returns true if the message is from a group chat
func (m *MessagePayload) IsGroupMessage() bool {
	return strings.HasSuffix(m.ChatID(), "@g.us")
}

// Time converts the unix timestamp.
func (m *MessagePayload) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Now().UTC()
	}
	return time.Unix(m.Timestamp, 0).UTC()
}

// SendMessageRequest represents the base request for sending messages
type SendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
	Session string `json:"session"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// FileData represents file information for media messages
type FileData struct {
	Mimetype string `json:"mimetype"`
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

// MediaMessageRequest represents the request for sending media messages
type MediaMessageRequest struct {
	ChatID  string   `json:"chatId"`
	File    FileData `json:"file"`
	Caption string   `json:"caption,omitempty"`
	Session string   `json:"session"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Convert *bool    `json:"convert,omitempty"`
}

// ReactionRequest represents the request to send a reaction
type ReactionRequest struct {
	Session   string `json:"session"`
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
}

// SendMessageResponse represents the response from send message operations
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type messageKey struct {
	FromMe     bool   `json:"fromMe"`
	Remote     string `json:"remote"`
	ID         string `json:"id"`
	Serialized string `json:"_serialized"`
}

// WAHAMessageResponse represents the actual WAHA API response format. The id
// is either a plain string or a key object depending on the engine.
type WAHAMessageResponse struct {
	ID   json.RawMessage `json:"id"`
	Data *struct {
		ID *messageKey `json:"id"`
	} `json:"_data"`
}

// MessageID extracts the serialized message id from any known shape.
func (r *WAHAMessageResponse) MessageID() string {
	if len(r.ID) > 0 {
		var plain string
		if err := json.Unmarshal(r.ID, &plain); err == nil && plain != "" {
			return plain
		}
		var key messageKey
		if err := json.Unmarshal(r.ID, &key); err == nil {
			if key.Serialized != "" {
				return key.Serialized
			}
			if key.ID != "" {
				return key.ID
			}
		}
	}
	if r.Data != nil && r.Data.ID != nil {
		if r.Data.ID.Serialized != "" {
			return r.Data.ID.Serialized
		}
		return r.Data.ID.ID
	}
	return ""
}

// WAHAErrorResponse represents error responses from WAHA API
type WAHAErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Contact represents a WhatsApp contact from WAHA API
type Contact struct {
	ID        string `json:"id"`
	Number    string `json:"number"`
	Name      string `json:"name"`
	PushName  string `json:"pushname"`
	ShortName string `json:"shortName"`
	IsMe      bool   `json:"isMe"`
	IsGroup   bool   `json:"isGroup"`
}

// GetDisplayName returns the best available display name for the contact
func (c *Contact) GetDisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.PushName != "" {
		return c.PushName
	}
	if c.ShortName != "" {
		return c.ShortName
	}
	return c.Number
}

// Group represents a WhatsApp group from WAHA API
type Group struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Name    string `json:"name"`
}

// GetDisplayName returns the best available display name for the group
func (g *Group) GetDisplayName() string {
	if g.Subject != "" {
		return g.Subject
	}
	if g.Name != "" {
		return g.Name
	}
	return g.ID
}

// ClientConfig represents the configuration for WhatsApp client
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	SessionName string
	Timeout     time.Duration
}
