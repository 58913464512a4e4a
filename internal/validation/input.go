package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// Input length limits
const (
	MaxNameLength    = 255
	MaxEmailLength   = 320 // RFC 5321: 64 (local) + 1 (@) + 255 (domain)
	MaxMessageLength = 100000
)

// ValidateName checks a display name. Empty names are allowed.
func ValidateName(name string) error {
	length := utf8.RuneCountInString(name)
	if length > MaxNameLength {
		return fmt.Errorf("name exceeds maximum length of %d characters (got %d)", MaxNameLength, length)
	}
	return nil
}

// ValidateEmail checks length and format. Empty emails are allowed.
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	length := utf8.RuneCountInString(email)
	if length > MaxEmailLength {
		return fmt.Errorf("email exceeds maximum length of %d characters (got %d)", MaxEmailLength, length)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	// "Ana <ana@example.com>" parses too; only the bare address is stored
	if !strings.EqualFold(addr.Address, strings.TrimSpace(email)) {
		return fmt.Errorf("invalid email format: use a bare address like ana@example.com")
	}
	return nil
}

// ValidateMessageContent checks a message body's size in bytes, as sent on
// the wire. Emptiness is the caller's concern.
func ValidateMessageContent(content string) error {
	if length := len(content); length > MaxMessageLength {
		return fmt.Errorf("message content exceeds maximum size of %d bytes (got %d)", MaxMessageLength, length)
	}
	return nil
}
