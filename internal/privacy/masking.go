package privacy

import (
	"strconv"
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		return "+" + maskString(phone[1:], 4)
	}
	return maskString(phone, 4)
}

// MaskChatID masks a WhatsApp chat ID to show structure but hide sensitive parts
// Example: "1234567890@c.us" -> "******7890@c.us"
func MaskChatID(chatID string) string {
	if chatID == "" {
		return ""
	}

	if at := strings.IndexByte(chatID, '@'); at >= 0 {
		return maskString(chatID[:at], 4) + chatID[at:]
	}
	return maskString(chatID, 4)
}

// MaskMessageID masks a WhatsApp message ID while preserving some structure for debugging
// Example: "true_1234567890@c.us_A1B2C3D4E5F6G7H8" -> "true_******7890@c.us_************G7H8"
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}

	parts := strings.SplitN(messageID, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + MaskChatID(parts[1]) + "_" + maskString(parts[2], 4)
	}
	return maskString(messageID, 8)
}

// MaskUserID masks a numeric destination user identifier
// Example: 123456789 -> "*****6789"
func MaskUserID(userID int64) string {
	if userID == 0 {
		return ""
	}
	return maskString(strconv.FormatInt(userID, 10), 4)
}

// MaskSessionName masks a session name while keeping some readability for debugging
func MaskSessionName(sessionName string) string {
	return maskString(sessionName, 3)
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}
