package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"inference_gateway/internal/models"
)

const responseColumns = `
	id, workspace_id, api_key_id, model, status,
	conversation_id, previous_response_id, child_response_ids,
	input_tokens, output_tokens, metadata, created_at, updated_at
`

// ResponseRepository owns the responses and response_items tables.
//
// The partial unique index
//   responses_one_root_per_conversation
//   ON responses (conversation_id) WHERE (metadata->>'root_response')::bool
// enforces the single-root invariant; a violation surfaces as
// ErrDuplicateRootResponse and the caller retries as non-root.
type ResponseRepository struct {
	db *DB
}

// NewResponseRepository creates a new response repository
func NewResponseRepository(db *DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// Create inserts a response row in status in_progress and, when it belongs
// to a conversation, links it into the conversation timeline.
func (r *ResponseRepository) Create(ctx context.Context, resp *models.Response) error {
	if resp.ID == uuid.Nil {
		resp.ID = uuid.New()
	}
	now := time.Now().UTC()
	resp.Status = models.ResponseStatusInProgress
	resp.CreatedAt = now
	resp.UpdatedAt = now
	if resp.ChildResponseIDs == nil {
		resp.ChildResponseIDs = pq.StringArray{}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin response transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := `
		INSERT INTO responses (` + responseColumns + `)
		VALUES (:id, :workspace_id, :api_key_id, :model, :status,
		        :conversation_id, :previous_response_id, :child_response_ids,
		        :input_tokens, :output_tokens, :metadata, :created_at, :updated_at)
	`
	if _, err := tx.NamedExecContext(ctx, insert, resp); err != nil {
		if isRootResponseConflict(err) {
			return ErrDuplicateRootResponse
		}
		return fmt.Errorf("failed to insert response: %w", err)
	}

	if resp.ConversationID != nil {
		timeline := `
			INSERT INTO conversation_responses (conversation_id, response_id, created_at)
			VALUES ($1, $2, $3)
		`
		if _, err := tx.ExecContext(ctx, timeline, *resp.ConversationID, resp.ID, now); err != nil {
			return fmt.Errorf("failed to link response into conversation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isRootResponseConflict(err) {
			return ErrDuplicateRootResponse
		}
		return fmt.Errorf("failed to commit response insert: %w", err)
	}
	return nil
}

func isRootResponseConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && strings.Contains(pqErr.Constraint, "root")
}

// jsonValue renders v as a jsonb literal for metadata patches.
func jsonValue(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// GetByID retrieves a response, scoped to a workspace.
func (r *ResponseRepository) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*models.Response, error) {
	var resp models.Response
	query := `
		SELECT ` + responseColumns + `
		FROM responses
		WHERE id = $1 AND workspace_id = $2
	`

	err := r.db.conn.GetContext(ctx, &resp, query, id, workspaceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrResponseNotFound
		}
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	return &resp, nil
}

// Finish transitions an in_progress response to a terminal status with its
// final token counts. Transitions out of terminal states do not happen: the
// guard on status makes the update a no-op and the current row is returned
// alongside ErrTerminalState.
func (r *ResponseRepository) Finish(ctx context.Context, id uuid.UUID, status string, inputTokens, outputTokens int) (*models.Response, error) {
	if !models.IsTerminalStatus(status) {
		return nil, fmt.Errorf("finish with non-terminal status %q", status)
	}

	var resp models.Response
	query := `
		UPDATE responses
		SET status = $2, input_tokens = $3, output_tokens = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
		RETURNING ` + responseColumns + `
	`

	err := r.db.conn.GetContext(ctx, &resp, query,
		id, status, inputTokens, outputTokens, models.ResponseStatusInProgress)
	if err == nil {
		return &resp, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to finish response: %w", err)
	}

	// Either the row does not exist or it is already terminal.
	current := `SELECT ` + responseColumns + ` FROM responses WHERE id = $1`
	if err := r.db.conn.GetContext(ctx, &resp, current, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrResponseNotFound
		}
		return nil, fmt.Errorf("failed to read response state: %w", err)
	}
	return &resp, ErrTerminalState
}

// SetMetadataKey writes one metadata key on a response row.
func (r *ResponseRepository) SetMetadataKey(ctx context.Context, id uuid.UUID, key string, value any) error {
	query := `
		UPDATE responses
		SET metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb),
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.conn.ExecContext(ctx, query, id, key, jsonValue(value))
	if err != nil {
		return fmt.Errorf("failed to set response metadata: %w", err)
	}
	return nil
}

// AppendChild appends a child id to a parent response. child_response_ids is
// append-only; append order under concurrent children is the commit order
// of the two updates.
func (r *ResponseRepository) AppendChild(ctx context.Context, parentID, childID uuid.UUID) error {
	query := `
		UPDATE responses
		SET child_response_ids = array_append(child_response_ids, $2::text),
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.conn.ExecContext(ctx, query, parentID, childID.String())
	if err != nil {
		return fmt.Errorf("failed to append child response: %w", err)
	}
	return nil
}

// InsertItem stores one response item.
func (r *ResponseRepository) InsertItem(ctx context.Context, item *models.ResponseItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO response_items (id, response_id, kind, direction, content, position, created_at)
		VALUES (:id, :response_id, :kind, :direction, :content, :position, :created_at)
	`
	if _, err := r.db.conn.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("failed to insert response item: %w", err)
	}
	return nil
}

// ListItems returns the items of a response in position order, optionally
// filtered by direction.
func (r *ResponseRepository) ListItems(ctx context.Context, responseID uuid.UUID, direction string) ([]models.ResponseItem, error) {
	var out []models.ResponseItem

	query := `
		SELECT id, response_id, kind, direction, content, position, created_at
		FROM response_items
		WHERE response_id = $1
	`
	args := []any{responseID}
	if direction != "" {
		query += ` AND direction = $2`
		args = append(args, direction)
	}
	query += ` ORDER BY position, created_at`

	if err := r.db.conn.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list response items: %w", err)
	}
	return out, nil
}
