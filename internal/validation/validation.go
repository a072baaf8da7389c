package validation

import (
	"fmt"
	"strings"
	"unicode"

	"whatstopic/internal/errors"
)

const (
	maxChatIDLength      = 128
	maxSessionNameLength = 64
	maxHandleDigits      = 20
	minHandleDigits      = 5
)

// chatServers are the WhatsApp address servers a conversation id may use.
var chatServers = map[string]bool{
	"c.us":           true,
	"g.us":           true,
	"s.whatsapp.net": true,
	"lid":            true,
}

// ValidateChatID checks a WhatsApp conversation id such as
// "15551234567@c.us" or "120363021234567890@g.us".
func ValidateChatID(chatID string) error {
	if chatID == "" {
		return errors.NewValidationError("chat_id", chatID, "chat id cannot be empty")
	}
	if len(chatID) > maxChatIDLength {
		return errors.NewValidationError("chat_id", "", fmt.Sprintf("chat id too long (max %d characters)", maxChatIDLength))
	}

	local, server, ok := strings.Cut(chatID, "@")
	if !ok || !chatServers[server] {
		return errors.NewValidationError("chat_id", "", "chat id must end in @c.us, @g.us, @s.whatsapp.net or @lid")
	}

	// Group ids may carry a creator prefix: "15551234567-1600000000@g.us".
	digits := 0
	for _, char := range local {
		switch {
		case unicode.IsDigit(char):
			digits++
		case char == '-' && server == "g.us":
		default:
			return errors.NewValidationError("chat_id", "", "chat id must contain only digits before the server")
		}
	}
	if digits < minHandleDigits {
		return errors.NewValidationError("chat_id", "", fmt.Sprintf("chat id must have at least %d digits", minHandleDigits))
	}
	if server != "g.us" && digits > maxHandleDigits {
		return errors.NewValidationError("chat_id", "", fmt.Sprintf("chat id too long (max %d digits)", maxHandleDigits))
	}
	return nil
}

// ValidateSessionName validates a WAHA session name
func ValidateSessionName(sessionName string) error {
	if sessionName == "" {
		return errors.NewValidationError("session_name", sessionName, "session name cannot be empty")
	}

	if len(sessionName) > maxSessionNameLength {
		return errors.NewValidationError("session_name", "",
			fmt.Sprintf("session name too long (max %d characters)", maxSessionNameLength))
	}

	for _, char := range sessionName {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return errors.NewValidationError("session_name", sessionName,
				"session name must contain only letters, numbers, underscores, and dashes")
		}
	}

	return nil
}

// ValidateForumGroupID checks that id looks like a Telegram supergroup id.
// Forum topics only exist in supergroups, whose ids start with -100.
func ValidateForumGroupID(id int64) error {
	if id >= 0 || !strings.HasPrefix(fmt.Sprint(id), "-100") {
		return errors.NewValidationError("group_chat_id", fmt.Sprint(id), "group chat id must be a supergroup id starting with -100")
	}
	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.NewValidationError(fieldName, fmt.Sprint(value),
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.NewValidationError(fieldName, fmt.Sprint(value),
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values in seconds
func ValidateTimeout(timeoutSec int, fieldName string) error {
	return ValidateNumericRange(timeoutSec, fieldName, 1, 3600)
}
