package logging

import (
	"regexp"
	"strings"
)

// Sanitize prepares a string for logging or persistence as an error
// message: data: URLs and long base64 runs are redacted and the result is
// truncated. Error messages returned to clients pass through here so user
// content (prompts, image bytes) is never echoed back.

const maxSanitizedLen = 256

var (
	dataURLPattern = regexp.MustCompile(`data:[a-zA-Z0-9/.+-]+;base64,[A-Za-z0-9+/=]+`)
	// 64+ base64 chars in a row is not prose.
	base64RunPattern = regexp.MustCompile(`[A-Za-z0-9+/=]{64,}`)
)

// Sanitize redacts embedded binary blobs and truncates s.
func Sanitize(s string) string {
	s = dataURLPattern.ReplaceAllString(s, "[data-url redacted]")
	s = base64RunPattern.ReplaceAllString(s, "[base64 redacted]")
	if len(s) > maxSanitizedLen {
		s = s[:maxSanitizedLen] + "…(truncated)"
	}
	return s
}

// SanitizeError is Sanitize for errors; nil-safe.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}

// ContainsSecret is a guard used in tests and debug assertions: it reports
// whether s still carries something that looks like a bearer secret.
func ContainsSecret(s string) bool {
	return strings.Contains(s, "sk-") && len(s) > 16
}
