package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/auth"
	"inference_gateway/internal/middleware"
	"inference_gateway/internal/models"
	"inference_gateway/internal/streaming"
	"inference_gateway/internal/utils"
)

// createResponseBody is the request shape of POST /v1/responses.
type createResponseBody struct {
	Model              string       `json:"model"`
	Input              any          `json:"input"` // string or [{role, content}]
	Stream             bool         `json:"stream"`
	Conversation       any          `json:"conversation"` // "conv_…" or {"id": "conv_…"}
	PreviousResponseID string       `json:"previous_response_id"`
	Metadata           models.JSONB `json:"metadata"`
	Temperature        *float64     `json:"temperature"`
	TopP               *float64     `json:"top_p"`
	MaxOutputTokens    *int         `json:"max_output_tokens"`
}

// handleCreateResponse serves POST /v1/responses: the persisted-response
// variant of the streaming pipeline with lifecycle events.
func (d *Dependencies) handleCreateResponse(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetKeyPrincipal(r.Context())
	if !ok {
		utils.WriteError(w, apierr.New(apierr.KindUnauthorized, "missing API key"))
		return
	}

	var body createResponseBody
	if err := utils.DecodeJSONBody(w, r, &body, maxRequestBody); err != nil {
		utils.WriteError(w, err)
		return
	}

	messages, inputItems, err := normalizeInput(body.Input)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	payload := map[string]any{"messages": messages}
	if body.Temperature != nil {
		payload["temperature"] = *body.Temperature
	}
	if body.TopP != nil {
		payload["top_p"] = *body.TopP
	}
	if body.MaxOutputTokens != nil {
		payload["max_tokens"] = *body.MaxOutputTokens
	}

	var conversationID *uuid.UUID
	if external := conversationRef(body.Conversation); external != "" {
		id, err := parsePrefixedID(external, models.PrefixConversation)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		conversationID = &id
	}

	var previousID *uuid.UUID
	if body.PreviousResponseID != "" {
		id, err := parsePrefixedID(body.PreviousResponseID, models.PrefixResponse)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		previousID = &id
	}

	req := &streaming.Request{
		Kind:               models.InferenceKindResponse,
		Model:              body.Model,
		Payload:            payload,
		Stream:             body.Stream,
		ConversationID:     conversationID,
		PreviousResponseID: previousID,
		InputItems:         inputItems,
		Metadata:           body.Metadata,
		IdempotencyKey:     r.Header.Get("Idempotency-Key"),
		Key:                principal.APIKey,
		CreateResponseRow:  true,
	}

	if body.Stream {
		sse, err := newSSEWriter(w)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		result, runErr := d.Pipeline.Run(r.Context(), req, sse.Emit)
		if runErr != nil && !result.Started && !sse.Started() {
			utils.WriteError(w, runErr)
		}
		return
	}

	result, runErr := d.Pipeline.Run(r.Context(), req, func(streaming.Event) error { return nil })
	if runErr != nil && result.Response == nil {
		utils.WriteError(w, runErr)
		return
	}

	out := renderResponse(result.Response)
	out["output_text"] = result.Text
	_ = utils.RespondWithJSON(w, http.StatusOK, out)
}

// handleGetResponse serves GET /v1/responses/{id}.
func (d *Dependencies) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	principal, id, err := d.responsePathID(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	resp, err := d.Responses.Get(r.Context(), principal.APIKey.WorkspaceID, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, renderResponse(resp))
}

// handleCancelResponse serves POST /v1/responses/{id}/cancel. Idempotent:
// cancelling a terminal response returns its current state.
func (d *Dependencies) handleCancelResponse(w http.ResponseWriter, r *http.Request) {
	principal, id, err := d.responsePathID(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	resp, err := d.Responses.Cancel(r.Context(), principal.APIKey.WorkspaceID, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, renderResponse(resp))
}

// handleResponseInputItems serves GET /v1/responses/{id}/input_items.
func (d *Dependencies) handleResponseInputItems(w http.ResponseWriter, r *http.Request) {
	principal, id, err := d.responsePathID(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	items, err := d.Responses.ListInputItems(r.Context(), principal.APIKey.WorkspaceID, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	data := make([]map[string]any, 0, len(items))
	for i := range items {
		data = append(data, renderItem(&items[i]))
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (d *Dependencies) responsePathID(r *http.Request) (*auth.KeyPrincipal, uuid.UUID, error) {
	principal, ok := middleware.GetKeyPrincipal(r.Context())
	if !ok {
		return nil, uuid.Nil, apierr.New(apierr.KindUnauthorized, "missing API key")
	}
	id, err := parsePrefixedID(r.PathValue("id"), models.PrefixResponse)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return principal, id, nil
}

// normalizeInput turns the input field into chat messages plus the
// preserved per-message input items.
func normalizeInput(input any) ([]map[string]any, []models.JSONB, error) {
	switch v := input.(type) {
	case string:
		message := map[string]any{"role": "user", "content": v}
		return []map[string]any{message}, []models.JSONB{models.JSONB(message)}, nil
	case []any:
		messages := make([]map[string]any, 0, len(v))
		items := make([]models.JSONB, 0, len(v))
		for _, raw := range v {
			message, ok := raw.(map[string]any)
			if !ok {
				return nil, nil, apierr.New(apierr.KindValidation, "input items must be objects")
			}
			messages = append(messages, message)
			items = append(items, models.JSONB(message))
		}
		if len(messages) == 0 {
			return nil, nil, apierr.New(apierr.KindValidation, "input is required")
		}
		return messages, items, nil
	default:
		return nil, nil, apierr.New(apierr.KindValidation, "input is required")
	}
}

func conversationRef(conversation any) string {
	switch v := conversation.(type) {
	case string:
		return v
	case map[string]any:
		id, _ := v["id"].(string)
		return id
	}
	return ""
}
