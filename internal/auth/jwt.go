package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// sessionClaims is the payload of the session cookie: a signed JWT carrying
// the opaque session secret. The secret itself is what the database knows
// (hashed); the JWT wrapper gives cookies integrity and a hard expiry
// without a database read.
type sessionClaims struct {
	SessionSecret string `json:"sst"`
	jwt.RegisteredClaims
}

// EncodeSessionCookie wraps a session secret into a signed cookie value.
func EncodeSessionCookie(secret string, userID string, expiresAt time.Time, signingKey []byte) (string, error) {
	claims := sessionClaims{
		SessionSecret: secret,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey)
}

// DecodeSessionCookie verifies the cookie signature and returns the opaque
// session secret. An invalid or expired cookie yields an error before any
// database work happens.
func DecodeSessionCookie(cookieValue string, signingKey []byte) (string, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookieValue, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid session cookie: %w", err)
	}
	if !token.Valid || claims.SessionSecret == "" {
		return "", fmt.Errorf("invalid session cookie")
	}
	return claims.SessionSecret, nil
}
