package engine

import "unicode/utf8"

const (
	// MaxBodyBytes is the maximum message body size in bytes.
	MaxBodyBytes = 4096
	// MaxBodyChars is the maximum message body length in characters.
	MaxBodyChars = 2000
)

// ValidateBody checks that a message body meets content requirements.
func ValidateBody(body string) error {
	if len(body) == 0 {
		return engineError(CodeInvalidMessage, "message body is empty")
	}
	if len(body) > MaxBodyBytes {
		return engineError(CodeInvalidMessage, "message exceeds %d byte limit", MaxBodyBytes)
	}
	if utf8.RuneCountInString(body) > MaxBodyChars {
		return engineError(CodeInvalidMessage, "message exceeds %d character limit", MaxBodyChars)
	}
	if !utf8.ValidString(body) {
		return engineError(CodeInvalidMessage, "message contains invalid UTF-8")
	}
	return nil
}
