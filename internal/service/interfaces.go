package service

import (
	"context"
	"time"

	"whatstopic/internal/media"
	"whatstopic/internal/models"
	"whatstopic/internal/store"
	"whatstopic/pkg/telegram"
	"whatstopic/pkg/whatsapp"
	"whatstopic/pkg/whatsapp/types"
)

// MappingRepository is the persistence surface of the bridge. It is
// implemented by store.MappingStore.
type MappingRepository interface {
	GetChat(ctx context.Context, sourceChatID string) (*models.ChatMapping, error)
	ChatByTopic(ctx context.Context, topicID int64) (*models.ChatMapping, error)
	CreateChat(ctx context.Context, m models.ChatMapping) (*models.ChatMapping, bool, error)
	UpdateChat(ctx context.Context, sourceChatID string, fn func(*models.ChatMapping) error) (*models.ChatMapping, error)
	TouchChat(ctx context.Context, sourceChatID string, at time.Time) error
	SetChatState(ctx context.Context, sourceChatID string, state models.ConversationState, reason string) (*models.ChatMapping, error)
	PurgeChat(ctx context.Context, sourceChatID string) error
	GetContact(ctx context.Context, sourceChatID string) (*models.ContactMapping, error)
	SaveContact(ctx context.Context, c models.ContactMapping) error
	GetUser(ctx context.Context, userID int64) (*models.UserMapping, error)
	SaveUser(ctx context.Context, u models.UserMapping) error
	Counts(ctx context.Context) (models.MappingCounts, error)
}

// TopicClient manages forum topics on the destination side.
type TopicClient interface {
	CreateForumTopic(ctx context.Context, chatID int64, name string) (*telegram.ForumTopic, error)
	EditForumTopic(ctx context.Context, chatID, threadID int64, name string) error
	DeleteForumTopic(ctx context.Context, chatID, threadID int64) error
}

// DestinationClient is everything the bridge sends to Telegram besides media.
type DestinationClient interface {
	TopicClient
	SendMessage(ctx context.Context, opts telegram.SendOptions, text string) (*telegram.Message, error)
	SendLocation(ctx context.Context, opts telegram.SendOptions, latitude, longitude float64) (*telegram.Message, error)
	SendContact(ctx context.Context, opts telegram.SendOptions, contact telegram.Contact) (*telegram.Message, error)
	SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error
}

// SourceClient is everything the bridge sends to WhatsApp besides media.
type SourceClient interface {
	SendText(ctx context.Context, chatID, text, replyTo string) (*types.SendMessageResponse, error)
	SendReaction(ctx context.Context, chatID, messageID, reaction string) (*types.SendMessageResponse, error)
	GetContact(ctx context.Context, contactID string) (*types.Contact, error)
	GetGroup(ctx context.Context, groupID string) (*types.Group, error)
}

// MediaRunner moves one media item across the bridge. Implemented by
// media.Pipeline.
type MediaRunner interface {
	Run(ctx context.Context, ref *models.MediaRef, kind models.Kind, target media.Target, caption string, videoNote bool) (models.DeliveryResult, error)
}

var (
	_ MappingRepository = (*store.MappingStore)(nil)
	_ DestinationClient = (*telegram.Client)(nil)
	_ SourceClient      = (*whatsapp.WhatsAppClient)(nil)
	_ MediaRunner       = (*media.Pipeline)(nil)
)
