package responses

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/logging"
	"inference_gateway/internal/models"
	"inference_gateway/internal/storage"
)

// Service owns the response lifecycle: in_progress → completed | failed |
// cancelled, conversation linkage and failed-item persistence. A response
// never leaves a terminal state.
type Service struct {
	responses     *storage.ResponseRepository
	conversations *storage.ConversationRepository
	logger        *logging.Logger

	// Live streams register a cancel trigger so POST .../cancel can tear
	// down the stream, not just flip the row.
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewService creates the response service.
func NewService(responses *storage.ResponseRepository, conversations *storage.ConversationRepository) *Service {
	return &Service{
		responses:     responses,
		conversations: conversations,
		logger:        logging.NewLogger("responses"),
		cancels:       make(map[uuid.UUID]context.CancelFunc),
	}
}

// CreateParams carries everything known at submit time.
type CreateParams struct {
	WorkspaceID        uuid.UUID
	APIKeyID           uuid.UUID
	Model              string
	ConversationID     *uuid.UUID
	PreviousResponseID *uuid.UUID
	InputItems         []models.JSONB
	Metadata           models.JSONB
}

// Create inserts a response row in status in_progress. The first response
// in a conversation is atomically marked metadata.root_response=true; a
// concurrent loser of that race retries as non-root. Input items are
// preserved so GET .../input_items can return them later.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Response, error) {
	metadata := models.JSONB{}
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	asRoot := false
	if params.ConversationID != nil {
		if _, err := s.conversations.GetByID(ctx, params.WorkspaceID, *params.ConversationID); err != nil {
			if errors.Is(err, storage.ErrConversationNotFound) {
				return nil, apierr.New(apierr.KindNotFound, "conversation not found")
			}
			return nil, apierr.Wrap(apierr.KindInternal, "conversation lookup failed", err)
		}

		hasResponses, err := s.conversations.HasResponses(ctx, *params.ConversationID)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "conversation lookup failed", err)
		}
		asRoot = !hasResponses
	}

	resp := &models.Response{
		WorkspaceID:        params.WorkspaceID,
		APIKeyID:           params.APIKeyID,
		Model:              params.Model,
		ConversationID:     params.ConversationID,
		PreviousResponseID: params.PreviousResponseID,
		Metadata:           metadata,
	}
	if asRoot {
		resp.Metadata[models.MetaRootResponse] = true
	}

	err := s.responses.Create(ctx, resp)
	if errors.Is(err, storage.ErrDuplicateRootResponse) {
		// A concurrent creator won the root slot; retry as non-root.
		delete(resp.Metadata, models.MetaRootResponse)
		resp.ID = uuid.Nil
		asRoot = false
		err = s.responses.Create(ctx, resp)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "response creation failed", err)
	}

	if asRoot && params.ConversationID != nil {
		if err := s.conversations.SetMetadataKey(ctx, *params.ConversationID,
			models.MetaRootResponseID, resp.ExternalID()); err != nil {
			s.logger.Warn("root response id stamp failed", "conversation", params.ConversationID, "error", err)
		}
	}

	if params.PreviousResponseID != nil {
		if err := s.responses.AppendChild(ctx, *params.PreviousResponseID, resp.ID); err != nil {
			s.logger.Warn("child append failed", "parent", params.PreviousResponseID, "error", err)
		}
	}

	for i, content := range params.InputItems {
		item := &models.ResponseItem{
			ResponseID: resp.ID,
			Kind:       models.ItemKindMessage,
			Direction:  models.ItemDirectionInput,
			Content:    content,
			Position:   i,
		}
		if err := s.responses.InsertItem(ctx, item); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "input item persistence failed", err)
		}
	}

	return resp, nil
}

// Get retrieves a response, workspace scoped.
func (s *Service) Get(ctx context.Context, workspaceID, id uuid.UUID) (*models.Response, error) {
	resp, err := s.responses.GetByID(ctx, workspaceID, id)
	if err != nil {
		if errors.Is(err, storage.ErrResponseNotFound) {
			return nil, apierr.New(apierr.KindNotFound, "response not found")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "response lookup failed", err)
	}
	return resp, nil
}

// Complete transitions a response to completed with its final usage and
// persists the output text as an item.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, inputTokens, outputTokens int, outputText string) (*models.Response, error) {
	resp, err := s.responses.Finish(ctx, id, models.ResponseStatusCompleted, inputTokens, outputTokens)
	if err != nil {
		if errors.Is(err, storage.ErrTerminalState) {
			return resp, nil
		}
		return nil, apierr.Wrap(apierr.KindInternal, "response completion failed", err)
	}

	item := &models.ResponseItem{
		ResponseID: id,
		Kind:       models.ItemKindMessage,
		Direction:  models.ItemDirectionOutput,
		Content:    models.JSONB{"role": "assistant", "text": outputText},
	}
	if err := s.responses.InsertItem(ctx, item); err != nil {
		s.logger.Warn("output item persistence failed", "response", id, "error", err)
	}
	return resp, nil
}

// Fail transitions a response to failed and writes a failed item into the
// conversation so the error shows up in-thread instead of vanishing. The
// message must already be sanitized; user content never passes through
// here.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, inputTokens, outputTokens int, sanitizedMessage string) (*models.Response, error) {
	resp, err := s.responses.Finish(ctx, id, models.ResponseStatusFailed, inputTokens, outputTokens)
	if err != nil {
		if errors.Is(err, storage.ErrTerminalState) {
			return resp, nil
		}
		return nil, apierr.Wrap(apierr.KindInternal, "response failure recording failed", err)
	}

	item := &models.ResponseItem{
		ResponseID: id,
		Kind:       models.ItemKindError,
		Direction:  models.ItemDirectionOutput,
		Content:    models.JSONB{"message": sanitizedMessage},
	}
	if err := s.responses.InsertItem(ctx, item); err != nil {
		s.logger.Warn("failed item persistence failed", "response", id, "error", err)
	}
	return resp, nil
}

// Cancel is the idempotent transition to cancelled: it tears down a live
// stream when one is registered, flips an in-progress row, and returns the
// current state unchanged when the response is already terminal.
func (s *Service) Cancel(ctx context.Context, workspaceID, id uuid.UUID) (*models.Response, error) {
	resp, err := s.Get(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if resp.IsTerminal() {
		return resp, nil
	}

	// A registered stream observes the cancellation and finishes the row
	// itself; an orphaned in-progress row is flipped directly.
	if s.triggerCancel(id) {
		return resp, nil
	}

	resp, err = s.responses.Finish(ctx, id, models.ResponseStatusCancelled, resp.InputTokens, resp.OutputTokens)
	if err != nil && !errors.Is(err, storage.ErrTerminalState) {
		return nil, apierr.Wrap(apierr.KindInternal, "response cancellation failed", err)
	}
	return resp, nil
}

// MarkCancelled finishes an in-progress row as cancelled. Called by the
// streaming pipeline after it tore the stream down.
func (s *Service) MarkCancelled(ctx context.Context, id uuid.UUID, inputTokens, outputTokens int) (*models.Response, error) {
	resp, err := s.responses.Finish(ctx, id, models.ResponseStatusCancelled, inputTokens, outputTokens)
	if err != nil && !errors.Is(err, storage.ErrTerminalState) {
		return nil, apierr.Wrap(apierr.KindInternal, "response cancellation failed", err)
	}
	return resp, nil
}

// RegisterCancel attaches a live stream's cancel trigger to a response id.
// The returned func unregisters it.
func (s *Service) RegisterCancel(id uuid.UUID, cancel context.CancelFunc) func() {
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
	}
}

func (s *Service) triggerCancel(id uuid.UUID) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ListInputItems returns the per-message metadata preserved from the
// request input.
func (s *Service) ListInputItems(ctx context.Context, workspaceID, id uuid.UUID) ([]models.ResponseItem, error) {
	if _, err := s.Get(ctx, workspaceID, id); err != nil {
		return nil, err
	}
	items, err := s.responses.ListItems(ctx, id, models.ItemDirectionInput)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "item listing failed", err)
	}
	return items, nil
}
