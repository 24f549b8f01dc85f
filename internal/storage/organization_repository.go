package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"inference_gateway/internal/models"
)

// OrganizationRepository reads tenants and workspaces. CRUD lives in the
// management plane; the core needs lookups for admission only.
type OrganizationRepository struct {
	db *DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// GetByID retrieves an active organization.
func (r *OrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	query := `
		SELECT id, name, is_active, rate_limit_per_minute, spend_limit,
		       created_at, updated_at, deleted_at
		FROM organizations
		WHERE id = $1 AND is_active = TRUE AND deleted_at IS NULL
	`

	err := r.db.conn.GetContext(ctx, &org, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// GetWorkspace retrieves a non-deleted workspace.
func (r *OrganizationRepository) GetWorkspace(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	var ws models.Workspace
	query := `
		SELECT id, organization_id, name, created_at, updated_at, deleted_at
		FROM workspaces
		WHERE id = $1 AND deleted_at IS NULL
	`

	err := r.db.conn.GetContext(ctx, &ws, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return &ws, nil
}
