package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/auth"
	"inference_gateway/internal/middleware"
	"inference_gateway/internal/models"
	"inference_gateway/internal/utils"
)

// handleCreateConversation serves POST /v1/conversations.
func (d *Dependencies) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetKeyPrincipal(r.Context())
	if !ok {
		utils.WriteError(w, apierr.New(apierr.KindUnauthorized, "missing API key"))
		return
	}

	var body struct {
		Metadata models.JSONB `json:"metadata"`
	}
	if err := utils.DecodeJSONBody(w, r, &body, 1024*1024); err != nil {
		utils.WriteError(w, err)
		return
	}

	conv, err := d.Responses.CreateConversation(r.Context(), principal.APIKey.WorkspaceID, body.Metadata)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, renderConversation(conv))
}

// handleListConversations serves GET /v1/conversations.
func (d *Dependencies) handleListConversations(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetKeyPrincipal(r.Context())
	if !ok {
		utils.WriteError(w, apierr.New(apierr.KindUnauthorized, "missing API key"))
		return
	}

	includeArchived := r.URL.Query().Get("include_archived") == "true"
	convs, err := d.Responses.ListConversations(r.Context(), principal.APIKey.WorkspaceID, includeArchived, 0)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	data := make([]map[string]any, 0, len(convs))
	for i := range convs {
		data = append(data, renderConversation(&convs[i]))
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

// handleGetConversation serves GET /v1/conversations/{id}.
func (d *Dependencies) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	principal, id, err := d.conversationPathID(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	conv, err := d.Responses.GetConversation(r.Context(), principal.APIKey.WorkspaceID, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, renderConversation(conv))
}

// handleUpdateConversation serves POST /v1/conversations/{id}: metadata
// replacement plus pin/archive toggles.
func (d *Dependencies) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	principal, id, err := d.conversationPathID(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	var body struct {
		Metadata models.JSONB `json:"metadata"`
		Pinned   *bool        `json:"pinned"`
		Archived *bool        `json:"archived"`
	}
	if err := utils.DecodeJSONBody(w, r, &body, 1024*1024); err != nil {
		utils.WriteError(w, err)
		return
	}

	ctx := r.Context()
	workspaceID := principal.APIKey.WorkspaceID

	if body.Pinned != nil {
		if err := d.Responses.PinConversation(ctx, workspaceID, id, *body.Pinned); err != nil {
			utils.WriteError(w, err)
			return
		}
	}
	if body.Archived != nil {
		if err := d.Responses.ArchiveConversation(ctx, workspaceID, id, *body.Archived); err != nil {
			utils.WriteError(w, err)
			return
		}
	}
	if body.Metadata != nil {
		if _, err := d.Responses.UpdateConversationMetadata(ctx, workspaceID, id, body.Metadata); err != nil {
			utils.WriteError(w, err)
			return
		}
	}

	conv, err := d.Responses.GetConversation(ctx, workspaceID, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, renderConversation(conv))
}

// handleDeleteConversation serves DELETE /v1/conversations/{id}.
func (d *Dependencies) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	principal, id, err := d.conversationPathID(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	if err := d.Responses.DeleteConversation(r.Context(), principal.APIKey.WorkspaceID, id); err != nil {
		utils.WriteError(w, err)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"id":      models.PrefixConversation + id.String(),
		"object":  "conversation.deleted",
		"deleted": true,
	})
}

// handleCloneConversation serves POST /v1/conversations/{id}/clone. The
// body includes metadata.root_response_id so the caller can render the
// timeline immediately.
func (d *Dependencies) handleCloneConversation(w http.ResponseWriter, r *http.Request) {
	principal, id, err := d.conversationPathID(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	clone, err := d.Responses.CloneConversation(r.Context(), principal.APIKey.WorkspaceID, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, renderConversation(clone))
}

// handleConversationItems serves GET /v1/conversations/{id}/items: the
// response timeline in created_at order.
func (d *Dependencies) handleConversationItems(w http.ResponseWriter, r *http.Request) {
	principal, id, err := d.conversationPathID(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	timeline, err := d.Responses.ConversationTimeline(r.Context(), principal.APIKey.WorkspaceID, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	data := make([]map[string]any, 0, len(timeline))
	for i := range timeline {
		data = append(data, renderResponse(&timeline[i]))
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (d *Dependencies) conversationPathID(r *http.Request) (*auth.KeyPrincipal, uuid.UUID, error) {
	principal, ok := middleware.GetKeyPrincipal(r.Context())
	if !ok {
		return nil, uuid.Nil, apierr.New(apierr.KindUnauthorized, "missing API key")
	}
	id, err := parsePrefixedID(r.PathValue("id"), models.PrefixConversation)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return principal, id, nil
}
