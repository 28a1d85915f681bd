package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf16"
)

const (
	// MinMessageLength is the minimum trimmed length of a visitor message
	MinMessageLength = 3
	// MaxMessageLength is the maximum raw length of a visitor message
	MaxMessageLength = 500
	// MaxLeadingRepeat is the longest run of one leading character that is
	// still accepted; one more and the message is treated as spam.
	MaxLeadingRepeat = 10
)

var (
	ErrEmptyMessage    = errors.New("message cannot be empty")
	ErrMessageTooShort = fmt.Errorf("message must be at least %d characters", MinMessageLength)
	ErrMessageTooLong  = fmt.Errorf("message must be at most %d characters", MaxMessageLength)
	ErrRepeatedChars   = errors.New("message starts with a repeated character")
	ErrContainsURL     = errors.New("message must not contain links")
)

// ChatRequestValidator validates visitor chat messages
type ChatRequestValidator struct{}

// NewChatRequestValidator creates a new ChatRequestValidator
func NewChatRequestValidator() *ChatRequestValidator {
	return &ChatRequestValidator{}
}

// IsValid reports whether message passes ValidateMessage
func (v *ChatRequestValidator) IsValid(message string) bool {
	return v.ValidateMessage(message) == nil
}

// ValidateMessage validates a chat message.
// Lengths are measured in UTF-16 code units so they agree with the limits
// enforced by the browser widget.
func (v *ChatRequestValidator) ValidateMessage(message string) error {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return ErrEmptyMessage
	}

	if utf16Len(trimmed) < MinMessageLength {
		return ErrMessageTooShort
	}

	if utf16Len(message) > MaxMessageLength {
		return ErrMessageTooLong
	}

	if leadingRepeat(message) > MaxLeadingRepeat {
		return ErrRepeatedChars
	}

	if containsURL(message) {
		return ErrContainsURL
	}

	return nil
}

// leadingRepeat counts how many times the first UTF-16 code unit occurs in a
// row at the start of s, comparing case-insensitively. A character outside
// the BMP is a surrogate pair and so never repeats its first unit. Line
// terminators never start a run.
func leadingRepeat(s string) int {
	units := utf16.Encode([]rune(s))
	if len(units) == 0 {
		return 0
	}
	first := rune(units[0])
	if isLineTerminator(first) {
		return 0
	}

	count := 1
	for _, u := range units[1:] {
		if !sameFold(first, rune(u)) {
			break
		}
		count++
	}
	return count
}

func sameFold(a, b rune) bool {
	if a == b {
		return true
	}
	for f := unicode.SimpleFold(a); f != a; f = unicode.SimpleFold(f) {
		if f == b {
			return true
		}
	}
	return false
}

func isLineTerminator(r rune) bool {
	return r == '\n' || r == '\r' || r == '\u2028' || r == '\u2029'
}

func containsURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "http://") || strings.Contains(lower, "https://")
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
