package models

import (
	"strings"
	"time"
)

// ChatType distinguishes one-to-one conversations from group conversations
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

// ConversationState is the per-conversation lifecycle value.
//
//	unmapped -> topic_pending -> active <-> suspended
//
// Only active and suspended are ever persisted; pending exists while a topic
// creation call is in flight.
type ConversationState string

const (
	StateUnmapped     ConversationState = "unmapped"
	StateTopicPending ConversationState = "topic_pending"
	StateActive       ConversationState = "active"
	StateSuspended    ConversationState = "suspended"
)

// ChatMapping binds one source conversation to one destination topic
type ChatMapping struct {
	SourceChatID       string            `json:"sourceChatId"`
	DestinationTopicID int64             `json:"destinationTopicId"`
	ChatType           ChatType          `json:"chatType"`
	TopicName          string            `json:"topicName"`
	CreatedAt          time.Time         `json:"createdAt"`
	LastMessageAt      time.Time         `json:"lastMessageAt"`
	MessageCount       int64             `json:"messageCount"`
	Active             bool              `json:"active"`
	State              ConversationState `json:"state"`
	SuspendedReason    string            `json:"suspendedReason,omitempty"`
}

// IsSuspended reports whether deliveries for this conversation are paused.
func (m *ChatMapping) IsSuspended() bool {
	return m.State == StateSuspended
}

// ContactMapping caches the display identity of a source conversation
type ContactMapping struct {
	SourceChatID string    `json:"sourceChatId"`
	DisplayName  string    `json:"displayName"`
	Handle       string    `json:"handle"`
	LastSynced   time.Time `json:"lastSynced"`
}

// IsStale reports whether the cached name is older than maxAge.
func (c *ContactMapping) IsStale(now time.Time, maxAge time.Duration) bool {
	return c.LastSynced.IsZero() || now.Sub(c.LastSynced) > maxAge
}

// GetDisplayName returns the cached name, falling back to the handle when the
// name is absent or older than maxAge. A zero maxAge disables staleness.
func (c *ContactMapping) GetDisplayName(now time.Time, maxAge time.Duration) string {
	if c.DisplayName == "" {
		return c.Handle
	}
	if maxAge > 0 && c.IsStale(now, maxAge) {
		return c.Handle
	}
	return c.DisplayName
}

// UserMapping remembers which source conversation a destination user last
// replied into, for replies started outside a topic.
type UserMapping struct {
	DestinationUserID int64     `json:"destinationUserId"`
	SourceChatID      string    `json:"sourceChatId"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// MappingCounts summarizes the store for operator tooling
type MappingCounts struct {
	Chats     int `json:"chats"`
	Active    int `json:"active"`
	Suspended int `json:"suspended"`
	Contacts  int `json:"contacts"`
	Users     int `json:"users"`
}

// HandleFromChatID strips the WhatsApp server suffix from a chat id.
// "15551234567@c.us" -> "15551234567"
func HandleFromChatID(chatID string) string {
	if i := strings.IndexByte(chatID, '@'); i >= 0 {
		return chatID[:i]
	}
	return chatID
}

// IsGroupChatID reports whether a WhatsApp chat id names a group.
func IsGroupChatID(chatID string) bool {
	return strings.HasSuffix(chatID, "@g.us")
}
