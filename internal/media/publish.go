package media

import (
	"context"
	"fmt"
	"path/filepath"

	"whatstopic/internal/models"
	"whatstopic/pkg/telegram"
	watypes "whatstopic/pkg/whatsapp/types"
)

// Target addresses a publish on either side of the bridge
type Target struct {
	Platform models.Platform

	// Destination side
	ChatID           int64
	TopicID          int64
	ReplyToMessageID int64
	ParseMode        string

	// Source side
	SourceChatID    string
	ReplyToOriginID string
}

// Publisher writes a blob to one platform
type Publisher interface {
	Publish(ctx context.Context, blob *Blob, target Target, caption string) (models.DeliveryResult, error)
}

// TopicSender is the part of the Bot API client a TopicPublisher needs.
type TopicSender interface {
	SendPhoto(ctx context.Context, opts telegram.SendOptions, file telegram.InputFile, caption string) (*telegram.Message, error)
	SendVideo(ctx context.Context, opts telegram.SendOptions, file telegram.InputFile, caption string) (*telegram.Message, error)
	SendVideoNote(ctx context.Context, opts telegram.SendOptions, file telegram.InputFile) (*telegram.Message, error)
	SendAudio(ctx context.Context, opts telegram.SendOptions, file telegram.InputFile, caption string) (*telegram.Message, error)
	SendVoice(ctx context.Context, opts telegram.SendOptions, file telegram.InputFile, caption string) (*telegram.Message, error)
	SendDocument(ctx context.Context, opts telegram.SendOptions, file telegram.InputFile, caption string) (*telegram.Message, error)
	SendSticker(ctx context.Context, opts telegram.SendOptions, file telegram.InputFile) (*telegram.Message, error)
}

// TopicPublisher posts blobs into a forum topic
type TopicPublisher struct {
	client TopicSender
}

func NewTopicPublisher(client TopicSender) *TopicPublisher {
	return &TopicPublisher{client: client}
}

func (p *TopicPublisher) Publish(ctx context.Context, blob *Blob, target Target, caption string) (models.DeliveryResult, error) {
	opts := telegram.SendOptions{
		ChatID:           target.ChatID,
		ThreadID:         target.TopicID,
		ReplyToMessageID: target.ReplyToMessageID,
		ParseMode:        target.ParseMode,
	}
	file := telegram.InputFile{Path: blob.Path, FileName: uploadName(blob)}

	var (
		msg *telegram.Message
		err error
	)
	switch blob.Kind {
	case models.KindImage:
		msg, err = p.client.SendPhoto(ctx, opts, file, caption)
	case models.KindVideo:
		if blob.VideoNote {
			msg, err = p.client.SendVideoNote(ctx, opts, file)
		} else {
			msg, err = p.client.SendVideo(ctx, opts, file, caption)
		}
	case models.KindAudio:
		msg, err = p.client.SendAudio(ctx, opts, file, caption)
	case models.KindVoice:
		msg, err = p.client.SendVoice(ctx, opts, file, caption)
	case models.KindSticker:
		msg, err = p.client.SendSticker(ctx, opts, file)
	default:
		msg, err = p.client.SendDocument(ctx, opts, file, caption)
	}
	if err != nil {
		return models.DeliveryResult{}, err
	}
	return models.DeliveryResult{DestinationMessageID: msg.MessageID, Artifacts: 1}, nil
}

// ChatSender is the part of the WAHA client a ChatPublisher needs.
type ChatSender interface {
	SendImage(ctx context.Context, chatID, path, caption, replyTo string) (*watypes.SendMessageResponse, error)
	SendVideo(ctx context.Context, chatID, path, caption, replyTo string) (*watypes.SendMessageResponse, error)
	SendDocument(ctx context.Context, chatID, path, caption, replyTo string) (*watypes.SendMessageResponse, error)
	SendVoice(ctx context.Context, chatID, path, replyTo string) (*watypes.SendMessageResponse, error)
}

// ChatPublisher posts blobs back into a WhatsApp chat
type ChatPublisher struct {
	client ChatSender
}

func NewChatPublisher(client ChatSender) *ChatPublisher {
	return &ChatPublisher{client: client}
}

func (p *ChatPublisher) Publish(ctx context.Context, blob *Blob, target Target, caption string) (models.DeliveryResult, error) {
	if target.SourceChatID == "" {
		return models.DeliveryResult{}, fmt.Errorf("publish target has no source chat")
	}

	var (
		resp *watypes.SendMessageResponse
		err  error
	)
	switch blob.Kind {
	case models.KindImage:
		resp, err = p.client.SendImage(ctx, target.SourceChatID, blob.Path, caption, target.ReplyToOriginID)
	case models.KindVideo:
		resp, err = p.client.SendVideo(ctx, target.SourceChatID, blob.Path, caption, target.ReplyToOriginID)
	case models.KindVoice:
		resp, err = p.client.SendVoice(ctx, target.SourceChatID, blob.Path, target.ReplyToOriginID)
	default:
		resp, err = p.client.SendDocument(ctx, target.SourceChatID, blob.Path, caption, target.ReplyToOriginID)
	}
	if err != nil {
		return models.DeliveryResult{}, err
	}
	return models.DeliveryResult{SourceMessageID: resp.MessageID, Artifacts: 1}, nil
}

func uploadName(blob *Blob) string {
	if blob.FileName != "" && filepath.Ext(blob.FileName) == filepath.Ext(blob.Path) {
		return blob.FileName
	}
	return filepath.Base(blob.Path)
}
