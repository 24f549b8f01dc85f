package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inference_gateway/internal/models"
)

const usageColumns = `
	id, organization_id, workspace_id, api_key_id, response_id,
	model_id, model_name,
	input_tokens, output_tokens, total_tokens,
	input_cost, output_cost, total_cost,
	inference_kind, inference_id, provider_request_id, stop_reason,
	ttft_ms, avg_inter_token_ms, created_at
`

// UsageRepository owns the organization_usage_log and organization_balance
// tables. Log rows are immutable; the balance is a cache over the log.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Record inserts the usage row and bumps the organization balance in a
// single transaction. When entry.InferenceID is non-null the insert is
// conditional on (organization_id, inference_id): a duplicate returns
// inserted=false, rolls back and leaves the balance untouched.
//
// The insert happens-before the balance increment inside the transaction,
// so balance = Σ log holds at every commit point.
func (r *UsageRepository) Record(ctx context.Context, entry *models.UsageLogEntry) (bool, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin usage transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := `
		INSERT INTO organization_usage_log (` + usageColumns + `)
		VALUES (:id, :organization_id, :workspace_id, :api_key_id, :response_id,
		        :model_id, :model_name,
		        :input_tokens, :output_tokens, :total_tokens,
		        :input_cost, :output_cost, :total_cost,
		        :inference_kind, :inference_id, :provider_request_id, :stop_reason,
		        :ttft_ms, :avg_inter_token_ms, :created_at)
		ON CONFLICT (organization_id, inference_id) WHERE inference_id IS NOT NULL
		DO NOTHING
	`

	res, err := tx.NamedExecContext(ctx, insert, entry)
	if err != nil {
		return false, fmt.Errorf("failed to insert usage log entry: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if rows == 0 {
		// Duplicate inference_id: a retry already billed this inference.
		return false, nil
	}

	balance := `
		INSERT INTO organization_balance
			(organization_id, total_spent, last_usage_at, total_requests, total_tokens, updated_at)
		VALUES ($1, $2, $3, 1, $4, NOW())
		ON CONFLICT (organization_id) DO UPDATE SET
			total_spent    = organization_balance.total_spent + EXCLUDED.total_spent,
			last_usage_at  = GREATEST(organization_balance.last_usage_at, EXCLUDED.last_usage_at),
			total_requests = organization_balance.total_requests + 1,
			total_tokens   = organization_balance.total_tokens + EXCLUDED.total_tokens,
			updated_at     = NOW()
	`

	_, err = tx.ExecContext(ctx, balance,
		entry.OrganizationID, entry.TotalCost, entry.CreatedAt, int64(entry.TotalTokens))
	if err != nil {
		return false, fmt.Errorf("failed to update organization balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit usage transaction: %w", err)
	}
	return true, nil
}

// GetBalance returns the cached balance for an organization. A missing row
// means no usage yet and scans as a zero balance.
func (r *UsageRepository) GetBalance(ctx context.Context, orgID uuid.UUID) (*models.OrganizationBalance, error) {
	var balance models.OrganizationBalance
	query := `
		SELECT organization_id, total_spent, last_usage_at,
		       total_requests, total_tokens, updated_at
		FROM organization_balance
		WHERE organization_id = $1
	`

	err := r.db.conn.GetContext(ctx, &balance, query, orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return &models.OrganizationBalance{OrganizationID: orgID}, nil
		}
		return nil, fmt.Errorf("failed to get organization balance: %w", err)
	}
	return &balance, nil
}

// SumByAPIKey returns the accumulated nano-unit spend of a single API key.
// Used by the pre-flight per-key limit check.
func (r *UsageRepository) SumByAPIKey(ctx context.Context, apiKeyID uuid.UUID) (int64, error) {
	var total int64
	query := `
		SELECT COALESCE(SUM(total_cost), 0)
		FROM organization_usage_log
		WHERE api_key_id = $1
	`

	if err := r.db.conn.GetContext(ctx, &total, query, apiKeyID); err != nil {
		return 0, fmt.Errorf("failed to sum api key spend: %w", err)
	}
	return total, nil
}

// ListByOrganization returns the most recent usage rows for an organization.
func (r *UsageRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID, limit int) ([]models.UsageLogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var out []models.UsageLogEntry
	query := `
		SELECT ` + usageColumns + `
		FROM organization_usage_log
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	if err := r.db.conn.SelectContext(ctx, &out, query, orgID, limit); err != nil {
		return nil, fmt.Errorf("failed to list usage log: %w", err)
	}
	return out, nil
}

// RebuildBalance recomputes the cached balance from the log. The balance is
// a cache; this restores the balance = Σ log invariant after a crash or a
// manual log correction.
func (r *UsageRepository) RebuildBalance(ctx context.Context, orgID uuid.UUID) (*models.OrganizationBalance, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin rebuild transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var agg struct {
		TotalSpent    int64      `db:"total_spent"`
		TotalRequests int64      `db:"total_requests"`
		TotalTokens   int64      `db:"total_tokens"`
		LastUsageAt   *time.Time `db:"last_usage_at"`
	}
	sum := `
		SELECT COALESCE(SUM(total_cost), 0)   AS total_spent,
		       COUNT(*)                        AS total_requests,
		       COALESCE(SUM(total_tokens), 0)  AS total_tokens,
		       MAX(created_at)                 AS last_usage_at
		FROM organization_usage_log
		WHERE organization_id = $1
	`
	if err := tx.GetContext(ctx, &agg, sum, orgID); err != nil {
		return nil, fmt.Errorf("failed to aggregate usage log: %w", err)
	}

	upsert := `
		INSERT INTO organization_balance
			(organization_id, total_spent, last_usage_at, total_requests, total_tokens, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (organization_id) DO UPDATE SET
			total_spent    = EXCLUDED.total_spent,
			last_usage_at  = EXCLUDED.last_usage_at,
			total_requests = EXCLUDED.total_requests,
			total_tokens   = EXCLUDED.total_tokens,
			updated_at     = NOW()
	`
	if _, err := tx.ExecContext(ctx, upsert, orgID,
		agg.TotalSpent, agg.LastUsageAt, agg.TotalRequests, agg.TotalTokens); err != nil {
		return nil, fmt.Errorf("failed to rewrite organization balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rebuild transaction: %w", err)
	}

	return &models.OrganizationBalance{
		OrganizationID: orgID,
		TotalSpent:     agg.TotalSpent,
		LastUsageAt:    agg.LastUsageAt,
		TotalRequests:  agg.TotalRequests,
		TotalTokens:    agg.TotalTokens,
	}, nil
}
