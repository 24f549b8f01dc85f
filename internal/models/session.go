package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a console user. Management-plane CRUD lives outside the core;
// only the fields the auth front-door reads are modeled here.
type User struct {
	ID        uuid.UUID  `db:"id"`
	Email     string     `db:"email"`
	IsActive  bool       `db:"is_active"`
	CreatedAt time.Time  `db:"created_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// Session is a cookie-backed login. The cookie value is never stored;
// token_hash holds an Argon2id digest of the opaque secret.
type Session struct {
	ID        uuid.UUID  `db:"id"`
	UserID    uuid.UUID  `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	UserAgent string     `db:"user_agent"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// IsValid reports whether the session authenticates at the given instant.
func (s *Session) IsValid(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}
