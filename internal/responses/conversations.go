package responses

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/models"
	"inference_gateway/internal/storage"
)

// Conversation operations live alongside the response state machine: both
// sides of the conversation linkage are maintained here.

// CreateConversation creates a workspace-scoped conversation.
func (s *Service) CreateConversation(ctx context.Context, workspaceID uuid.UUID, metadata models.JSONB) (*models.Conversation, error) {
	if metadata == nil {
		metadata = models.JSONB{}
	}
	conv := &models.Conversation{
		WorkspaceID: workspaceID,
		Metadata:    metadata,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "conversation creation failed", err)
	}
	return conv, nil
}

// GetConversation retrieves a conversation, workspace scoped.
func (s *Service) GetConversation(ctx context.Context, workspaceID, id uuid.UUID) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, workspaceID, id)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return nil, apierr.New(apierr.KindNotFound, "conversation not found")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "conversation lookup failed", err)
	}
	return conv, nil
}

// ListConversations returns a workspace's conversations.
func (s *Service) ListConversations(ctx context.Context, workspaceID uuid.UUID, includeArchived bool, limit int) ([]models.Conversation, error) {
	out, err := s.conversations.List(ctx, workspaceID, includeArchived, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "conversation listing failed", err)
	}
	return out, nil
}

// UpdateConversationMetadata replaces the metadata blob.
func (s *Service) UpdateConversationMetadata(ctx context.Context, workspaceID, id uuid.UUID, metadata models.JSONB) (*models.Conversation, error) {
	if err := s.conversations.UpdateMetadata(ctx, workspaceID, id, metadata); err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return nil, apierr.New(apierr.KindNotFound, "conversation not found")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "conversation update failed", err)
	}
	return s.GetConversation(ctx, workspaceID, id)
}

// PinConversation pins or unpins a conversation.
func (s *Service) PinConversation(ctx context.Context, workspaceID, id uuid.UUID, pinned bool) error {
	if err := s.conversations.SetPinned(ctx, workspaceID, id, pinned); err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return apierr.New(apierr.KindNotFound, "conversation not found")
		}
		return apierr.Wrap(apierr.KindInternal, "conversation update failed", err)
	}
	return nil
}

// ArchiveConversation archives or unarchives a conversation.
func (s *Service) ArchiveConversation(ctx context.Context, workspaceID, id uuid.UUID, archived bool) error {
	if err := s.conversations.SetArchived(ctx, workspaceID, id, archived); err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return apierr.New(apierr.KindNotFound, "conversation not found")
		}
		return apierr.Wrap(apierr.KindInternal, "conversation update failed", err)
	}
	return nil
}

// DeleteConversation soft-deletes a conversation. Rows are kept for audit.
func (s *Service) DeleteConversation(ctx context.Context, workspaceID, id uuid.UUID) error {
	if err := s.conversations.SoftDelete(ctx, workspaceID, id); err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return apierr.New(apierr.KindNotFound, "conversation not found")
		}
		return apierr.Wrap(apierr.KindInternal, "conversation deletion failed", err)
	}
	return nil
}

// CloneConversation duplicates a conversation with cloned_from_id set and
// re-associates the response timeline as shallow references; no token data
// is copied. The clone's metadata carries root_response_id so the caller
// can render the timeline immediately.
func (s *Service) CloneConversation(ctx context.Context, workspaceID, id uuid.UUID) (*models.Conversation, error) {
	src, err := s.GetConversation(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}

	clone, err := s.conversations.Clone(ctx, src)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "conversation clone failed", err)
	}
	return clone, nil
}

// ConversationTimeline returns the responses of a conversation in timeline
// order: created_at, tie-broken by response id.
func (s *Service) ConversationTimeline(ctx context.Context, workspaceID, id uuid.UUID) ([]models.Response, error) {
	if _, err := s.GetConversation(ctx, workspaceID, id); err != nil {
		return nil, err
	}
	timeline, err := s.conversations.ListTimeline(ctx, id)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "timeline listing failed", err)
	}
	return timeline, nil
}
