package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"whatstopic/internal/models"
	"whatstopic/pkg/telegram"
	"whatstopic/pkg/whatsapp/types"
)

const statusBroadcastChat = "status@broadcast"

// Normalize converts a WAHA event into an inbound envelope. It returns nil
// with no error for events that carry nothing to mirror: status broadcasts,
// revoked messages, removed reactions and session events.
func Normalize(event *types.WebhookEvent) (*models.MessageEnvelope, error) {
	if event == nil {
		return nil, fmt.Errorf("nil event")
	}

	switch event.Event {
	case types.EventMessage, types.EventMessageAny, types.EventMessageReaction:
	default:
		return nil, nil
	}

	var p types.MessagePayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", event.Event, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%s payload has no message id", event.Event)
	}

	chatID := p.ChatID()
	if chatID == "" || chatID == statusBroadcastChat || strings.HasSuffix(chatID, "@newsletter") {
		return nil, nil
	}

	env := &models.MessageEnvelope{
		OriginID:          p.ID,
		Direction:         models.DirectionInbound,
		SourceChatID:      chatID,
		SenderID:          p.SenderID(),
		SenderDisplayName: p.Data.NotifyName,
		Timestamp:         p.Time(),
		FromSelf:          p.FromMe,
		IsGroup:           p.IsGroupMessage(),
		TextOrCaption:     p.Body,
	}
	if p.ReplyTo != nil {
		env.ReplyToOriginID = p.ReplyTo.ID
	}

	if event.Event == types.EventMessageReaction || p.Reaction != nil {
		if p.Reaction == nil || p.Reaction.Text == "" || p.Reaction.MessageID == "" {
			return nil, nil
		}
		env.Kind = models.KindReaction
		env.TextOrCaption = ""
		env.Reaction = &models.Reaction{Emoji: p.Reaction.Text, TargetOriginID: p.Reaction.MessageID}
		return env, nil
	}

	kind, label := detectKind(&p)
	env.Kind = kind
	switch kind {
	case "":
		return nil, nil
	case models.KindUnsupported:
		env.UnsupportedLabel = label
	case models.KindLocation:
		env.Location = &models.Location{}
		if p.Location != nil {
			env.Location.Latitude = p.Location.Latitude
			env.Location.Longitude = p.Location.Longitude
			env.Location.Description = p.Location.Description
		}
		env.TextOrCaption = ""
	case models.KindContact:
		card := ""
		if len(p.VCards) > 0 {
			card = p.VCards[0]
		}
		name, phone := parseVCard(card)
		env.Contact = &models.ContactCard{DisplayName: name, PhoneNumber: phone, VCard: card}
		env.TextOrCaption = ""
	default:
		if kind.IsMedia() {
			env.MediaRef = &models.MediaRef{
				Platform: models.PlatformWhatsApp,
				URL:      p.Media.URL,
				MimeType: p.Media.Mimetype,
				FileName: p.Media.Filename,
				Size:     p.Data.Size,
				Animated: p.Data.IsAnimated,
			}
			env.VideoNote = p.Data.Type == types.RawTypePTV
		}
	}
	return env, nil
}

// detectKind maps a WAHA payload onto the closed kind set. An empty kind
// means the payload should be ignored.
func detectKind(p *types.MessagePayload) (models.Kind, string) {
	switch p.Data.Type {
	case types.RawTypeRevoked:
		return "", ""
	case types.RawTypePoll:
		return models.KindUnsupported, "poll"
	case types.RawTypeLiveLocation:
		return models.KindUnsupported, "live location"
	case types.RawTypeCallLog:
		return models.KindUnsupported, "call"
	case types.RawTypeLocation:
		return models.KindLocation, ""
	case types.RawTypeVCard, types.RawTypeMultiVCard:
		return models.KindContact, ""
	}

	if p.Location != nil {
		return models.KindLocation, ""
	}
	if len(p.VCards) > 0 {
		return models.KindContact, ""
	}

	if p.HasMedia {
		if p.Media == nil || p.Media.URL == "" {
			return models.KindUnsupported, "media unavailable"
		}
		switch p.Data.Type {
		case types.RawTypeSticker:
			return models.KindSticker, ""
		case types.RawTypePTT:
			return models.KindVoice, ""
		case types.RawTypePTV, types.RawTypeVideo:
			return models.KindVideo, ""
		case types.RawTypeImage:
			return models.KindImage, ""
		case types.RawTypeAudio:
			return models.KindAudio, ""
		case types.RawTypeDocument:
			return models.KindDocument, ""
		}
		mimeType := p.Media.Mimetype
		switch {
		case strings.HasPrefix(mimeType, "image/"):
			return models.KindImage, ""
		case strings.HasPrefix(mimeType, "video/"):
			return models.KindVideo, ""
		case strings.HasPrefix(mimeType, "audio/"):
			return models.KindAudio, ""
		}
		return models.KindDocument, ""
	}

	if strings.TrimSpace(p.Body) == "" {
		return "", ""
	}
	return models.KindText, ""
}

// parseVCard pulls the formatted name and first phone number out of a vCard.
func parseVCard(card string) (name, phone string) {
	for _, line := range strings.Split(strings.ReplaceAll(card, "\r\n", "\n"), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field := strings.ToUpper(key)
		if i := strings.IndexByte(field, ';'); i >= 0 {
			field = field[:i]
		}
		switch field {
		case "FN":
			if name == "" {
				name = strings.TrimSpace(value)
			}
		case "TEL":
			if phone == "" {
				phone = strings.TrimSpace(value)
			}
		}
	}
	return name, phone
}

// NormalizeDestination converts a Telegram update from the forum group into
// an outbound envelope. It returns nil with no error for updates that are not
// replies: other chats, bots, service messages.
func NormalizeDestination(update *telegram.Update, groupChatID int64) (*models.MessageEnvelope, error) {
	if update == nil {
		return nil, fmt.Errorf("nil update")
	}

	if r := update.MessageReaction; r != nil {
		if r.Chat.ID != groupChatID || r.User == nil || r.User.IsBot {
			return nil, nil
		}
		emoji := ""
		for _, reaction := range r.NewReaction {
			if reaction.Type == "emoji" && reaction.Emoji != "" {
				emoji = reaction.Emoji
				break
			}
		}
		if emoji == "" {
			return nil, nil
		}
		return &models.MessageEnvelope{
			OriginID:             fmt.Sprintf("%d:%d:r:%d:%d", r.Chat.ID, r.MessageID, r.User.ID, r.Date),
			Direction:            models.DirectionOutbound,
			SenderID:             strconv.FormatInt(r.User.ID, 10),
			SenderDisplayName:    r.User.DisplayName(),
			Timestamp:            time.Unix(r.Date, 0).UTC(),
			Kind:                 models.KindReaction,
			Reaction:             &models.Reaction{Emoji: emoji},
			DestinationChatID:    r.Chat.ID,
			DestinationMessageID: r.MessageID,
			DestinationUserID:    r.User.ID,
		}, nil
	}

	msg := update.Message
	if msg == nil || msg.Chat.ID != groupChatID || msg.From == nil || msg.From.IsBot || msg.ForumTopicCreated != nil {
		return nil, nil
	}

	env := &models.MessageEnvelope{
		OriginID:             fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID),
		Direction:            models.DirectionOutbound,
		SenderID:             strconv.FormatInt(msg.From.ID, 10),
		SenderDisplayName:    msg.From.DisplayName(),
		Timestamp:            msg.Time(),
		DestinationChatID:    msg.Chat.ID,
		DestinationMessageID: msg.MessageID,
		DestinationUserID:    msg.From.ID,
		TextOrCaption:        msg.Caption,
	}
	if msg.IsTopicMessage {
		env.DestinationTopicID = msg.MessageThreadID
	}
	// Inside a topic every message replies to the topic's opening message.
	if reply := msg.ReplyToMessage; reply != nil && reply.MessageID != msg.MessageThreadID && reply.ForumTopicCreated == nil {
		env.ReplyToDestinationID = reply.MessageID
	}

	ref := func(fileID, mimeType, fileName string, size int64) *models.MediaRef {
		return &models.MediaRef{Platform: models.PlatformTelegram, FileID: fileID, MimeType: mimeType, FileName: fileName, Size: size}
	}

	switch {
	case msg.Text != "":
		env.Kind = models.KindText
		env.TextOrCaption = msg.Text
	case len(msg.Photo) > 0:
		photo := msg.LargestPhoto()
		env.Kind = models.KindImage
		env.MediaRef = ref(photo.FileID, "image/jpeg", "", photo.FileSize)
	case msg.Video != nil:
		env.Kind = models.KindVideo
		env.MediaRef = ref(msg.Video.FileID, msg.Video.MimeType, msg.Video.FileName, msg.Video.FileSize)
	case msg.VideoNote != nil:
		env.Kind = models.KindVideo
		env.VideoNote = true
		env.MediaRef = ref(msg.VideoNote.FileID, "video/mp4", "", msg.VideoNote.FileSize)
	case msg.Voice != nil:
		env.Kind = models.KindVoice
		env.MediaRef = ref(msg.Voice.FileID, msg.Voice.MimeType, "", msg.Voice.FileSize)
	case msg.Audio != nil:
		env.Kind = models.KindAudio
		env.MediaRef = ref(msg.Audio.FileID, msg.Audio.MimeType, msg.Audio.FileName, msg.Audio.FileSize)
	case msg.Document != nil:
		env.Kind = models.KindDocument
		env.MediaRef = ref(msg.Document.FileID, msg.Document.MimeType, msg.Document.FileName, msg.Document.FileSize)
	case msg.Sticker != nil:
		env.Kind = models.KindSticker
		mimeType := "image/webp"
		switch {
		case msg.Sticker.IsAnimated:
			mimeType = "application/x-tgsticker"
		case msg.Sticker.IsVideo:
			mimeType = "video/webm"
		}
		env.MediaRef = ref(msg.Sticker.FileID, mimeType, "", msg.Sticker.FileSize)
		env.MediaRef.Animated = msg.Sticker.IsAnimated || msg.Sticker.IsVideo
	case msg.Location != nil:
		env.Kind = models.KindLocation
		env.Location = &models.Location{Latitude: msg.Location.Latitude, Longitude: msg.Location.Longitude}
	case msg.Contact != nil:
		env.Kind = models.KindContact
		name := strings.TrimSpace(msg.Contact.FirstName + " " + msg.Contact.LastName)
		env.Contact = &models.ContactCard{DisplayName: name, PhoneNumber: msg.Contact.PhoneNumber, VCard: msg.Contact.VCard}
	default:
		env.Kind = models.KindUnsupported
		env.UnsupportedLabel = "message"
	}
	return env, nil
}
