package referral

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// EncodePayload turns a chat id into the opaque token carried in
// a deep link's start parameter.
func EncodePayload(chatID int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(chatID, 10)))
}

// DecodePayload reverses EncodePayload. Tokens that are not valid
// base64 or do not decode to a positive integer are rejected.
func DecodePayload(token string) (int64, error) {
	if token == "" {
		return 0, fmt.Errorf("referral: empty deep link token")
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("referral: malformed deep link token: %w", err)
	}

	chatID, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("referral: deep link payload is not a chat id: %w", err)
	}
	if chatID <= 0 {
		return 0, fmt.Errorf("referral: deep link payload %d out of range", chatID)
	}

	return chatID, nil
}

// BuildLink produces the shareable invite URL for a user.
func BuildLink(botUsername string, chatID int64) string {
	username := strings.TrimPrefix(strings.TrimSpace(botUsername), "@")
	return fmt.Sprintf("https://t.me/%s?start=%s", username, EncodePayload(chatID))
}
