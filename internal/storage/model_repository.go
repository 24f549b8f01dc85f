package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inference_gateway/internal/models"
)

const modelColumns = `
	id, model_name, aliases, owned_by,
	input_cost_per_token, output_cost_per_token, cost_per_image,
	context_length, verifiable, provider_kind,
	is_active, created_at, updated_at, deleted_at
`

// ModelRepository handles model catalog operations with caching
type ModelRepository struct {
	db    *DB
	cache *LRUCache
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *DB) *ModelRepository {
	return &ModelRepository{
		db:    db,
		cache: db.GetModelCache(),
	}
}

// GetByName retrieves a model by canonical name or alias (with caching).
// Only active, non-deleted models resolve.
func (r *ModelRepository) GetByName(ctx context.Context, name string) (*models.Model, error) {
	if cached, found := r.cache.Get(name); found {
		return cached.(*models.Model), nil
	}

	var model models.Model
	query := `
		SELECT ` + modelColumns + `
		FROM models
		WHERE model_name = $1
		  AND is_active = TRUE
		  AND deleted_at IS NULL
	`

	err := r.db.conn.GetContext(ctx, &model, query, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return r.getByAlias(ctx, name)
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}

	r.cache.Set(name, &model)

	return &model, nil
}

// getByAlias retrieves a model by one of its aliases
func (r *ModelRepository) getByAlias(ctx context.Context, alias string) (*models.Model, error) {
	var model models.Model
	query := `
		SELECT ` + modelColumns + `
		FROM models
		WHERE $1 = ANY(aliases)
		  AND is_active = TRUE
		  AND deleted_at IS NULL
	`

	err := r.db.conn.GetContext(ctx, &model, query, alias)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model by alias: %w", err)
	}

	r.cache.Set(alias, &model)

	return &model, nil
}

// ListPublic returns all active, non-deleted models, ordered by name.
func (r *ModelRepository) ListPublic(ctx context.Context) ([]models.Model, error) {
	var out []models.Model
	query := `
		SELECT ` + modelColumns + `
		FROM models
		WHERE is_active = TRUE
		  AND deleted_at IS NULL
		ORDER BY model_name
	`

	if err := r.db.conn.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return out, nil
}

// PricingAt reads the pricing effective at the given instant from
// model_pricing_history. Used for replaying past usage; live requests read
// the current columns via GetByName.
func (r *ModelRepository) PricingAt(ctx context.Context, modelID uuid.UUID, at time.Time) (*models.PricingHistoryEntry, error) {
	var entry models.PricingHistoryEntry
	query := `
		SELECT id, model_id, input_cost_per_token, output_cost_per_token,
		       cost_per_image, effective_from, effective_until
		FROM model_pricing_history
		WHERE model_id = $1
		  AND effective_from <= $2
		  AND (effective_until IS NULL OR effective_until > $2)
		ORDER BY effective_from DESC
		LIMIT 1
	`

	err := r.db.conn.GetContext(ctx, &entry, query, modelID, at)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get pricing history: %w", err)
	}
	return &entry, nil
}
