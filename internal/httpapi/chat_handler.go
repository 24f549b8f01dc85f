package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/middleware"
	"inference_gateway/internal/models"
	"inference_gateway/internal/streaming"
	"inference_gateway/internal/utils"
)

const maxRequestBody = 10 * 1024 * 1024

// handleChatCompletions serves POST /v1/chat/completions.
func (d *Dependencies) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	d.handleCompletionFlavor(w, r, models.InferenceKindChat)
}

// handleCompletions serves POST /v1/completions.
func (d *Dependencies) handleCompletions(w http.ResponseWriter, r *http.Request) {
	d.handleCompletionFlavor(w, r, models.InferenceKindCompletion)
}

func (d *Dependencies) handleCompletionFlavor(w http.ResponseWriter, r *http.Request, kind string) {
	principal, ok := middleware.GetKeyPrincipal(r.Context())
	if !ok {
		utils.WriteError(w, apierr.New(apierr.KindUnauthorized, "missing API key"))
		return
	}

	var payload map[string]any
	if err := utils.DecodeJSONBody(w, r, &payload, maxRequestBody); err != nil {
		utils.WriteError(w, err)
		return
	}

	modelName, _ := payload["model"].(string)
	stream, _ := payload["stream"].(bool)

	req := &streaming.Request{
		Kind:           kind,
		Model:          modelName,
		Payload:        payload,
		Stream:         stream,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Key:            principal.APIKey,
	}

	if stream {
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
	if runErr != nil {
		utils.WriteError(w, runErr)
		return
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, assembleCompletion(kind, result))
}

// assembleCompletion builds the single JSON object a stream=false client
// receives, from the collected stream.
func assembleCompletion(kind string, result *streaming.Result) map[string]any {
	id := result.ChatID
	if id == "" {
		id = uuid.New().String()
	}

	usage := map[string]any{
		"prompt_tokens":     result.InputTokens,
		"completion_tokens": result.OutputTokens,
		"total_tokens":      result.InputTokens + result.OutputTokens,
	}

	if kind == models.InferenceKindCompletion {
		return map[string]any{
			"id":     models.PrefixChatCmpl + id,
			"object": "text_completion",
			"model":  result.Model,
			"choices": []map[string]any{{
				"index":         0,
				"text":          result.Text,
				"finish_reason": finishReasonFromStop(result.StopReason),
			}},
			"usage": usage,
		}
	}

	return map[string]any{
		"id":     models.PrefixChatCmpl + id,
		"object": "chat.completion",
		"model":  result.Model,
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": result.Text,
			},
			"finish_reason": finishReasonFromStop(result.StopReason),
		}},
		"usage": usage,
	}
}

func finishReasonFromStop(stopReason string) string {
	switch stopReason {
	case models.StopReasonLength:
		return "length"
	case models.StopReasonContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}
