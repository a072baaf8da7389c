package types

const (
	APIBase           = "/api"
	EndpointSendText  = "/sendText"
	EndpointSendSeen  = "/sendSeen"
	EndpointSendImage = "/sendImage"
	EndpointSendFile  = "/sendFile"
	EndpointSendVoice = "/sendVoice"
	EndpointSendVideo = "/sendVideo"
	EndpointReaction  = "/reaction"
	EndpointSessions  = "/sessions"

	// Contact endpoints
	EndpointContacts = "/contacts"

	// Group endpoints
	EndpointGroups = "/groups"

	// Websocket event stream
	EndpointEvents = "/ws"
)

// Event names emitted by WAHA.
const (
	EventMessage         = "message"
	EventMessageAny      = "message.any"
	EventMessageReaction = "message.reaction"
	EventSessionStatus   = "session.status"
)

// Raw message types found in MessagePayload.Data.Type.
const (
	RawTypeChat         = "chat"
	RawTypeImage        = "image"
	RawTypeVideo        = "video"
	RawTypeAudio        = "audio"
	RawTypePTT          = "ptt"
	RawTypePTV          = "ptv"
	RawTypeDocument     = "document"
	RawTypeSticker      = "sticker"
	RawTypeLocation     = "location"
	RawTypeLiveLocation = "live_location"
	RawTypeVCard        = "vcard"
	RawTypeMultiVCard   = "multi_vcard"
	RawTypePoll         = "poll_creation"
	RawTypeCallLog      = "call_log"
	RawTypeRevoked      = "revoked"
)
