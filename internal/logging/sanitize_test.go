package logging

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRedactsDataURLs(t *testing.T) {
	in := "failed to decode data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg== for request"
	out := Sanitize(in)

	assert.NotContains(t, out, "base64,")
	assert.Contains(t, out, "[data-url redacted]")
}

func TestSanitizeRedactsBareBase64Runs(t *testing.T) {
	blob := strings.Repeat("QUJDRA", 20) // 120 base64 chars
	out := Sanitize("payload was " + blob)

	assert.NotContains(t, out, blob)
	assert.Contains(t, out, "[base64 redacted]")
}

func TestSanitizeTruncatesLongStrings(t *testing.T) {
	out := Sanitize(strings.Repeat("a ", 400))
	assert.LessOrEqual(t, len(out), maxSanitizedLen+len("…(truncated)"))
	assert.Contains(t, out, "…(truncated)")
}

func TestSanitizeLeavesShortProseAlone(t *testing.T) {
	assert.Equal(t, "connection refused", Sanitize("connection refused"))
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "", SanitizeError(nil))
	assert.Equal(t, "boom", SanitizeError(errors.New("boom")))
}
