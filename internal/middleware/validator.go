package middleware

import (
	"fmt"
	"regexp"
)

// Input validation and sanitization utilities

var recordIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateRecordID validates the record id taken from a URL
func ValidateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("record ID cannot be empty")
	}
	if !recordIDPattern.MatchString(id) {
		return fmt.Errorf("invalid record ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidatePinInput is a cheap shape check before a PIN reaches the auth
// controller. Length policy lives in the controller.
func ValidatePinInput(pin string) error {
	if pin == "" {
		return fmt.Errorf("pin cannot be empty")
	}
	if len(pin) > 64 {
		return fmt.Errorf("pin too long")
	}
	return nil
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 50 // default
	}
	if limit > 500 {
		return 500
	}
	return limit
}
