package chat

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max text payload
	MaxTextChars    = 2000 // max character count
	MaxMediaURLLen  = 2048 // max length for image/video references
)

// ValidateMessage checks that an outgoing message meets content requirements.
// Empty text is allowed when the message carries a media reference.
func ValidateMessage(text, imageURL, videoURL string) error {
	if len(text) == 0 && imageURL == "" && videoURL == "" {
		return fmt.Errorf("message has no text and no media")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	if len(imageURL) > MaxMediaURLLen || len(videoURL) > MaxMediaURLLen {
		return fmt.Errorf("media reference exceeds %d byte limit", MaxMediaURLLen)
	}
	return nil
}
