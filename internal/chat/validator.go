package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/campuscrush/realtime/internal/apperr"
)

const (
	MaxMessageBytes = 4096
	MaxTextChars    = 2000
)

// ValidateMessage checks that a chat message meets content requirements and
// returns the text with surrounding whitespace removed.
func ValidateMessage(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", apperr.Validation("message contains invalid UTF-8")
	}
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return "", apperr.Validation("message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return "", apperr.Validation("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return "", apperr.Validation("message exceeds %d character limit", MaxTextChars)
	}
	return text, nil
}
