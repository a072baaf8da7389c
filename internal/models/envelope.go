package models

import (
	"strconv"
	"time"
)

// Kind is the closed set of content kinds the bridge understands
type Kind string

const (
	KindText        Kind = "text"
	KindImage       Kind = "image"
	KindVideo       Kind = "video"
	KindAudio       Kind = "audio"
	KindVoice       Kind = "voice"
	KindDocument    Kind = "document"
	KindSticker     Kind = "sticker"
	KindLocation    Kind = "location"
	KindContact     Kind = "contact"
	KindReaction    Kind = "reaction"
	KindUnsupported Kind = "unsupported"
)

// IsMedia reports whether the kind carries a binary payload.
func (k Kind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindVoice, KindDocument, KindSticker:
		return true
	}
	return false
}

// Direction of an envelope relative to the source platform
type Direction string

const (
	DirectionInbound  Direction = "inbound"  // source -> destination topic
	DirectionOutbound Direction = "outbound" // destination topic -> source
)

// Platform names a side of the bridge
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
)

// MediaRef points at a remote binary without fetching it
type MediaRef struct {
	Platform Platform `json:"platform"`
	URL      string   `json:"url,omitempty"`
	FileID   string   `json:"fileId,omitempty"`
	MimeType string   `json:"mimeType,omitempty"`
	FileName string   `json:"fileName,omitempty"`
	Size     int64    `json:"size,omitempty"`
	Animated bool     `json:"animated,omitempty"`
}

// Location payload
type Location struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description,omitempty"`
}

// ContactCard payload
type ContactCard struct {
	DisplayName string `json:"displayName"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	VCard       string `json:"vcard,omitempty"`
}

// Reaction payload
type Reaction struct {
	Emoji          string `json:"emoji"`
	TargetOriginID string `json:"targetOriginId"`
}

// MessageEnvelope is the platform-neutral form of one message
type MessageEnvelope struct {
	OriginID          string    `json:"originId"`
	Direction         Direction `json:"direction"`
	SourceChatID      string    `json:"sourceChatId"`
	SenderID          string    `json:"senderId"`
	SenderDisplayName string    `json:"senderDisplayName"`
	ChatDisplayName   string    `json:"chatDisplayName,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	Kind              Kind      `json:"kind"`
	TextOrCaption     string    `json:"text,omitempty"`
	MediaRef          *MediaRef `json:"mediaRef,omitempty"`
	FromSelf          bool      `json:"fromSelf"`
	IsGroup           bool      `json:"isGroup"`
	VideoNote         bool      `json:"videoNote,omitempty"`
	ReplyToOriginID   string    `json:"replyToOriginId,omitempty"`
	UnsupportedLabel  string    `json:"unsupportedLabel,omitempty"`

	Location *Location    `json:"location,omitempty"`
	Contact  *ContactCard `json:"contact,omitempty"`
	Reaction *Reaction    `json:"reaction,omitempty"`

	// Outbound only: where the reply was written on the destination side.
	DestinationChatID    int64 `json:"destinationChatId,omitempty"`
	DestinationTopicID   int64 `json:"destinationTopicId,omitempty"`
	DestinationMessageID int64 `json:"destinationMessageId,omitempty"`
	DestinationUserID    int64 `json:"destinationUserId,omitempty"`
	ReplyToDestinationID int64 `json:"replyToDestinationId,omitempty"`
}

// QueueKey names the ordering domain of the envelope.
func (e *MessageEnvelope) QueueKey() string {
	if e.Direction == DirectionOutbound {
		if e.DestinationTopicID != 0 {
			return "dst:" + strconv.FormatInt(e.DestinationTopicID, 10)
		}
		return "dst:user:" + strconv.FormatInt(e.DestinationUserID, 10)
	}
	return "src:" + e.SourceChatID
}

// DedupKey identifies the platform event for replay suppression.
func (e *MessageEnvelope) DedupKey() string {
	if e.Direction == DirectionOutbound {
		return "tg:" + e.OriginID
	}
	return "wa:" + e.OriginID
}
