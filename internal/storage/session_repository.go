package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"inference_gateway/internal/models"
)

// SessionRepository resolves console sessions and their users. Session
// creation and revocation live in the management plane; the core only
// reads.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// GetByTokenHash retrieves a live session by the hash of its cookie secret.
// Revoked and expired sessions do not resolve.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	var session models.Session
	query := `
		SELECT id, user_id, token_hash, user_agent, expires_at, revoked_at, created_at
		FROM sessions
		WHERE token_hash = $1
		  AND revoked_at IS NULL
		  AND expires_at > NOW()
	`

	err := r.db.conn.GetContext(ctx, &session, query, tokenHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// GetUser retrieves an active user.
func (r *SessionRepository) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	query := `
		SELECT id, email, is_active, created_at, deleted_at
		FROM users
		WHERE id = $1 AND is_active = TRUE AND deleted_at IS NULL
	`

	err := r.db.conn.GetContext(ctx, &user, query, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
