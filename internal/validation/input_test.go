package validation

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{name: "empty name is allowed", input: ""},
		{name: "short name", input: "Ana Lima"},
		{name: "at max length", input: strings.Repeat("a", MaxNameLength)},
		{name: "max length counts runes", input: strings.Repeat("é", MaxNameLength)},
		{name: "one over max", input: strings.Repeat("a", MaxNameLength+1), wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateName() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{name: "empty is allowed", input: ""},
		{name: "plain address", input: "ana@example.com"},
		{name: "plus tag", input: "ops+support@acme.test"},
		{name: "missing at", input: "ana.example.com", wantError: true},
		{name: "display name form", input: "Ana <ana@example.com>", wantError: true},
		{name: "too long", input: strings.Repeat("a", MaxEmailLength) + "@x.io", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateEmail(%q) error = %v, wantError %v", tt.input, err, tt.wantError)
			}
		})
	}
}

func TestValidateMessageContent(t *testing.T) {
	if err := ValidateMessageContent("hi"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateMessageContent(strings.Repeat("a", MaxMessageLength)); err != nil {
		t.Errorf("message at the limit should pass: %v", err)
	}
	// multi-byte runes count by their encoded size
	err := ValidateMessageContent(strings.Repeat("é", MaxMessageLength/2+1))
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum size") {
		t.Errorf("expected size error, got %v", err)
	}
}
