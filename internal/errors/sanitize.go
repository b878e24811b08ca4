package errors

import (
	"regexp"
	"strings"
)

// Patterns that should be redacted from error messages
var sensitivePatterns = []*regexp.Regexp{
	// File paths (Unix and Windows)
	regexp.MustCompile(`(?i)(/home/[^\s:]+|/Users/[^\s:]+|/root/[^\s:]+|/etc/[^\s:]+|/var/[^\s:]+)`),
	regexp.MustCompile(`(?i)([A-Z]:\\[^\s:]+)`),

	// Passwords and key material in URLs or strings
	regexp.MustCompile(`(?i)(password|passwd|pwd|secret|api[_-]?key|token|bearer)[=:]["']?[^\s"'&]+`),

	// Hex-encoded keys, signatures and digests (32 bytes and up)
	regexp.MustCompile(`\b[0-9a-fA-F]{64,}\b`),

	// Base64 blobs long enough to be ciphertext or key material
	regexp.MustCompile(`\b[A-Za-z0-9+/=_-]{48,}\b`),

	// Email addresses
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),

	// UUIDs (owner identifiers, backup IDs)
	regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`),
}

// Generic replacements for common sensitive information types
var replacements = map[string]string{
	"password":    "[REDACTED]",
	"secret":      "[REDACTED]",
	"key":         "[REDACTED]",
	"token":       "[REDACTED]",
	"credentials": "[REDACTED]",
}

// SanitizeError removes sensitive information from error messages
// for display to clients. Internal logging should use the original error.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString removes sensitive information from a string
func SanitizeString(s string) string {
	result := s

	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}

	lower := strings.ToLower(result)
	for keyword, replacement := range replacements {
		if strings.Contains(lower, keyword) {
			// Only replace if it looks like it's exposing a value
			re := regexp.MustCompile(`(?i)` + keyword + `[=:]["']?[^\s"']+`)
			result = re.ReplaceAllString(result, keyword+"="+replacement)
		}
	}

	return result
}

// SafeError wraps an error with a sanitized message for client-facing use
// while preserving the original error for internal logging
type SafeError struct {
	// Original is the full error (for logging)
	Original error
	// Message is the sanitized message (for clients)
	Message string
}

func (e *SafeError) Error() string {
	return e.Message
}

func (e *SafeError) Unwrap() error {
	return e.Original
}

// NewSafeError creates a client-safe error from an internal error
func NewSafeError(err error) *SafeError {
	if err == nil {
		return nil
	}
	return &SafeError{
		Original: err,
		Message:  SanitizeString(err.Error()),
	}
}

// NewSafeErrorWithMessage creates a safe error with a custom client message
func NewSafeErrorWithMessage(err error, clientMessage string) *SafeError {
	return &SafeError{
		Original: err,
		Message:  clientMessage,
	}
}
