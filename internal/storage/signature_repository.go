package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"inference_gateway/internal/models"
)

// SignatureRepository owns the chat_signatures table. Primary key is
// (chat_id, signing_algo); a signature, once stored, is never rewritten.
type SignatureRepository struct {
	db *DB
}

// NewSignatureRepository creates a new signature repository
func NewSignatureRepository(db *DB) *SignatureRepository {
	return &SignatureRepository{db: db}
}

// Store inserts a signature. A duplicate (chat_id, signing_algo) keeps the
// first stored row; re-binding after a retry is a no-op.
func (r *SignatureRepository) Store(ctx context.Context, sig *models.ChatSignature) error {
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO chat_signatures (chat_id, text, signature, signing_address, signing_algo, created_at)
		VALUES (:chat_id, :text, :signature, :signing_address, :signing_algo, :created_at)
		ON CONFLICT (chat_id, signing_algo) DO NOTHING
	`
	if _, err := r.db.conn.NamedExecContext(ctx, query, sig); err != nil {
		return fmt.Errorf("failed to store chat signature: %w", err)
	}
	return nil
}

// ListByChatID returns all signatures stored for a chat id, one per
// signing algorithm.
func (r *SignatureRepository) ListByChatID(ctx context.Context, chatID string) ([]models.ChatSignature, error) {
	var out []models.ChatSignature
	query := `
		SELECT chat_id, text, signature, signing_address, signing_algo, created_at
		FROM chat_signatures
		WHERE chat_id = $1
		ORDER BY signing_algo
	`
	if err := r.db.conn.SelectContext(ctx, &out, query, chatID); err != nil {
		return nil, fmt.Errorf("failed to list chat signatures: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrSignatureNotFound
	}
	return out, nil
}

// Get returns the signature for one (chat_id, signing_algo) pair.
func (r *SignatureRepository) Get(ctx context.Context, chatID, signingAlgo string) (*models.ChatSignature, error) {
	var sig models.ChatSignature
	query := `
		SELECT chat_id, text, signature, signing_address, signing_algo, created_at
		FROM chat_signatures
		WHERE chat_id = $1 AND signing_algo = $2
	`
	err := r.db.conn.GetContext(ctx, &sig, query, chatID, signingAlgo)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSignatureNotFound
		}
		return nil, fmt.Errorf("failed to get chat signature: %w", err)
	}
	return &sig, nil
}
