package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a bearer credential owned by a workspace.
//
// Only keys satisfying IsValid authenticate: enabled, not soft-deleted and
// not past their expiry.
type APIKey struct {
	ID             uuid.UUID  `db:"id"`
	WorkspaceID    uuid.UUID  `db:"workspace_id"`
	OrganizationID uuid.UUID  `db:"organization_id"`
	Name           string     `db:"name"`
	Prefix         string     `db:"prefix"`   // first characters of the raw secret, for display
	KeyHash        string     `db:"key_hash"` // hex SHA-256 of the raw secret
	IsActive       bool       `db:"is_active"`
	SpendLimit     *int64     `db:"spend_limit"` // nano-units, NULL = org limit only
	ExpiresAt      *time.Time `db:"expires_at"`
	LastUsedAt     *time.Time `db:"last_used_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at"`
}

// IsExpired checks if the key has expired.
func (k *APIKey) IsExpired(now time.Time) bool {
	if k.ExpiresAt == nil {
		return false
	}
	return !now.Before(*k.ExpiresAt)
}

// IsValid reports whether the key may authenticate a request right now.
func (k *APIKey) IsValid(now time.Time) bool {
	return k.IsActive && k.DeletedAt == nil && !k.IsExpired(now)
}
