package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCookieRoundTrip(t *testing.T) {
	key := []byte("test-signing-key")

	cookie, err := EncodeSessionCookie("opaque-secret", "user-1", time.Now().Add(time.Hour), key)
	require.NoError(t, err)

	secret, err := DecodeSessionCookie(cookie, key)
	require.NoError(t, err)
	assert.Equal(t, "opaque-secret", secret)
}

func TestSessionCookieWrongKey(t *testing.T) {
	cookie, err := EncodeSessionCookie("opaque-secret", "user-1", time.Now().Add(time.Hour), []byte("key-a"))
	require.NoError(t, err)

	_, err = DecodeSessionCookie(cookie, []byte("key-b"))
	assert.Error(t, err)
}

func TestSessionCookieExpired(t *testing.T) {
	key := []byte("test-signing-key")
	cookie, err := EncodeSessionCookie("opaque-secret", "user-1", time.Now().Add(-time.Minute), key)
	require.NoError(t, err)

	_, err = DecodeSessionCookie(cookie, key)
	assert.Error(t, err, "the JWT wrapper enforces expiry before any database read")
}

func TestSessionCookieGarbage(t *testing.T) {
	_, err := DecodeSessionCookie("not-a-jwt", []byte("key"))
	assert.Error(t, err)
}
