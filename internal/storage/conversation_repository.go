package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inference_gateway/internal/models"
)

const conversationColumns = `
	id, workspace_id, metadata, cloned_from_id,
	pinned_at, archived_at, created_at, updated_at, deleted_at
`

// ConversationRepository owns the conversations and conversation_responses
// tables. conversation_responses is the timeline: it holds shallow
// references to response rows so clones can share responses without
// duplicating token data.
type ConversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create inserts a conversation row.
func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	query := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES (:id, :workspace_id, :metadata, :cloned_from_id,
		        :pinned_at, :archived_at, :created_at, :updated_at, :deleted_at)
	`
	if _, err := r.db.conn.NamedExecContext(ctx, query, conv); err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetByID retrieves a non-deleted conversation, scoped to a workspace.
func (r *ConversationRepository) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1 AND workspace_id = $2 AND deleted_at IS NULL
	`

	err := r.db.conn.GetContext(ctx, &conv, query, id, workspaceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// List returns a workspace's non-deleted conversations, pinned first, then
// most recently updated.
func (r *ConversationRepository) List(ctx context.Context, workspaceID uuid.UUID, includeArchived bool, limit int) ([]models.Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE workspace_id = $1 AND deleted_at IS NULL
	`
	if !includeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY pinned_at IS NULL, updated_at DESC LIMIT $2`

	var out []models.Conversation
	if err := r.db.conn.SelectContext(ctx, &out, query, workspaceID, limit); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return out, nil
}

// UpdateMetadata replaces the metadata blob.
func (r *ConversationRepository) UpdateMetadata(ctx context.Context, workspaceID, id uuid.UUID, metadata models.JSONB) error {
	query := `
		UPDATE conversations
		SET metadata = $3, updated_at = NOW()
		WHERE id = $1 AND workspace_id = $2 AND deleted_at IS NULL
	`
	res, err := r.db.conn.ExecContext(ctx, query, id, workspaceID, metadata)
	if err != nil {
		return fmt.Errorf("failed to update conversation metadata: %w", err)
	}
	return requireRow(res, ErrConversationNotFound)
}

// SetMetadataKey writes one metadata key without clobbering the rest of the
// blob. Used for root_response_id.
func (r *ConversationRepository) SetMetadataKey(ctx context.Context, id uuid.UUID, key string, value any) error {
	query := `
		UPDATE conversations
		SET metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb),
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	if _, err := r.db.conn.ExecContext(ctx, query, id, key, jsonValue(value)); err != nil {
		return fmt.Errorf("failed to set conversation metadata: %w", err)
	}
	return nil
}

// SetPinned pins or unpins a conversation.
func (r *ConversationRepository) SetPinned(ctx context.Context, workspaceID, id uuid.UUID, pinned bool) error {
	query := `
		UPDATE conversations
		SET pinned_at = CASE WHEN $3 THEN NOW() ELSE NULL END, updated_at = NOW()
		WHERE id = $1 AND workspace_id = $2 AND deleted_at IS NULL
	`
	res, err := r.db.conn.ExecContext(ctx, query, id, workspaceID, pinned)
	if err != nil {
		return fmt.Errorf("failed to pin conversation: %w", err)
	}
	return requireRow(res, ErrConversationNotFound)
}

// SetArchived archives or unarchives a conversation.
func (r *ConversationRepository) SetArchived(ctx context.Context, workspaceID, id uuid.UUID, archived bool) error {
	query := `
		UPDATE conversations
		SET archived_at = CASE WHEN $3 THEN NOW() ELSE NULL END, updated_at = NOW()
		WHERE id = $1 AND workspace_id = $2 AND deleted_at IS NULL
	`
	res, err := r.db.conn.ExecContext(ctx, query, id, workspaceID, archived)
	if err != nil {
		return fmt.Errorf("failed to archive conversation: %w", err)
	}
	return requireRow(res, ErrConversationNotFound)
}

// SoftDelete marks a conversation deleted. Rows are kept for audit.
func (r *ConversationRepository) SoftDelete(ctx context.Context, workspaceID, id uuid.UUID) error {
	query := `
		UPDATE conversations
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND workspace_id = $2 AND deleted_at IS NULL
	`
	res, err := r.db.conn.ExecContext(ctx, query, id, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return requireRow(res, ErrConversationNotFound)
}

// Clone duplicates a conversation row with cloned_from_id set and copies
// the timeline as shallow references. Response rows are shared, not
// duplicated.
func (r *ConversationRepository) Clone(ctx context.Context, src *models.Conversation) (*models.Conversation, error) {
	clone := &models.Conversation{
		ID:           uuid.New(),
		WorkspaceID:  src.WorkspaceID,
		Metadata:     cloneMetadata(src.Metadata),
		ClonedFromID: &src.ID,
	}
	now := time.Now().UTC()
	clone.CreatedAt = now
	clone.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin clone transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES (:id, :workspace_id, :metadata, :cloned_from_id,
		        :pinned_at, :archived_at, :created_at, :updated_at, :deleted_at)
	`
	if _, err := tx.NamedExecContext(ctx, insert, clone); err != nil {
		return nil, fmt.Errorf("failed to insert conversation clone: %w", err)
	}

	copyTimeline := `
		INSERT INTO conversation_responses (conversation_id, response_id, created_at)
		SELECT $1, response_id, created_at
		FROM conversation_responses
		WHERE conversation_id = $2
	`
	if _, err := tx.ExecContext(ctx, copyTimeline, clone.ID, src.ID); err != nil {
		return nil, fmt.Errorf("failed to copy conversation timeline: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit conversation clone: %w", err)
	}
	return clone, nil
}

// ListTimeline returns the responses referenced from a conversation in
// timeline order: response created_at, tie-broken by response id.
func (r *ConversationRepository) ListTimeline(ctx context.Context, conversationID uuid.UUID) ([]models.Response, error) {
	var out []models.Response
	query := `
		SELECT r.id, r.workspace_id, r.api_key_id, r.model, r.status,
		       r.conversation_id, r.previous_response_id, r.child_response_ids,
		       r.input_tokens, r.output_tokens, r.metadata, r.created_at, r.updated_at
		FROM conversation_responses cr
		JOIN responses r ON r.id = cr.response_id
		WHERE cr.conversation_id = $1
		ORDER BY r.created_at, r.id
	`
	if err := r.db.conn.SelectContext(ctx, &out, query, conversationID); err != nil {
		return nil, fmt.Errorf("failed to list conversation timeline: %w", err)
	}
	return out, nil
}

// HasResponses reports whether any response is linked into the conversation.
// The creator uses this to decide whether a new response is the root.
func (r *ConversationRepository) HasResponses(ctx context.Context, conversationID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM conversation_responses WHERE conversation_id = $1)`
	if err := r.db.conn.GetContext(ctx, &exists, query, conversationID); err != nil {
		return false, fmt.Errorf("failed to check conversation timeline: %w", err)
	}
	return exists, nil
}

func cloneMetadata(m models.JSONB) models.JSONB {
	out := models.JSONB{}
	for k, v := range m {
		out[k] = v
	}
	return out
}

// requireRow converts a zero-row update into notFound.
func requireRow(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
