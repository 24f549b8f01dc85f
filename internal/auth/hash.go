package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

// HashAPIKey computes the content hash stored in api_keys.key_hash: the
// hex SHA-256 of the raw secret. Deterministic so keys can be looked up by
// hash; the raw secret is never stored or logged.
func HashAPIKey(secret string) string {
	hasher := sha256.New()
	hasher.Write([]byte(secret))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Argon2id parameters for session-secret hashing. The salt is a fixed
// server-side pepper so the digest stays deterministic and sessions can be
// looked up by token_hash.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// HashSessionSecret computes the deterministic Argon2id digest stored in
// sessions.token_hash.
func HashSessionSecret(secret string, pepper []byte) string {
	digest := argon2.IDKey([]byte(secret), pepper, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(digest)
}
