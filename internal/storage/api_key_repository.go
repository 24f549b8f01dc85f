package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inference_gateway/internal/models"
)

const apiKeyColumns = `
	id, workspace_id, organization_id, name, prefix, key_hash,
	is_active, spend_limit, expires_at, last_used_at,
	created_at, updated_at, deleted_at
`

// APIKeyRepository handles API key database operations with caching
type APIKeyRepository struct {
	db    *DB
	cache *LRUCache
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{
		db:    db,
		cache: db.GetAPIKeyCache(),
	}
}

// GetByHash retrieves an API key by its content hash. Only keys that are
// active, not soft-deleted and not expired are returned; anything else is
// ErrAPIKeyNotFound so callers cannot distinguish a revoked key from a
// missing one.
func (r *APIKeyRepository) GetByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	if cached, found := r.cache.Get(keyHash); found {
		key := cached.(*models.APIKey)
		// Expiry is rechecked on every hit; the cache TTL is longer
		// than the precision we need.
		if key.IsValid(time.Now()) {
			return key, nil
		}
		r.cache.Delete(keyHash)
		return nil, ErrAPIKeyNotFound
	}

	var key models.APIKey
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE key_hash = $1
		  AND is_active = TRUE
		  AND deleted_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())
	`

	err := r.db.conn.GetContext(ctx, &key, query, keyHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	r.cache.Set(keyHash, &key)

	return &key, nil
}

// GetByID retrieves an API key by id regardless of validity.
func (r *APIKeyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	var key models.APIKey
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &key, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	return &key, nil
}

// StampLastUsed updates last_used_at. Runs outside the billing transaction;
// a lost update here is acceptable.
func (r *APIKeyRepository) StampLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE api_keys
		SET last_used_at = $2, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.conn.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to stamp last_used_at: %w", err)
	}
	return nil
}
