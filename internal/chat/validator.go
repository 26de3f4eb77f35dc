package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/whisper/chat-client/internal/chaterr"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count
	MaxNameChars    = 100
)

// ValidateMessage checks that a chat message meets content requirements and
// returns the trimmed text to send. Whitespace-only text counts as empty.
func ValidateMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return "", chaterr.Invalid("content", "message text is empty")
	}
	if !utf8.ValidString(text) {
		return "", chaterr.Invalid("content", "message contains invalid UTF-8")
	}
	if len(text) > MaxMessageBytes {
		return "", chaterr.Invalid("content", "message exceeds 4096 byte limit")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return "", chaterr.Invalid("content", "message exceeds 2000 character limit")
	}
	return text, nil
}

// ValidateChatName checks a chat name before it is sent to the backend and
// returns the trimmed name.
func ValidateChatName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", chaterr.Invalid("name", "chat name is empty")
	}
	if utf8.RuneCountInString(name) > MaxNameChars {
		return "", chaterr.Invalid("name", "chat name exceeds 100 character limit")
	}
	return name, nil
}

// ValidateCredentials checks the login/registration form fields. username is
// only checked when register is true.
func ValidateCredentials(email, password, username string, register bool) error {
	if strings.TrimSpace(email) == "" {
		return chaterr.Invalid("email", "email is empty")
	}
	if !strings.Contains(email, "@") {
		return chaterr.Invalid("email", "email is not valid")
	}
	if password == "" {
		return chaterr.Invalid("password", "password is empty")
	}
	if register && strings.TrimSpace(username) == "" {
		return chaterr.Invalid("username", "username is empty")
	}
	return nil
}
