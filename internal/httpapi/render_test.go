package httpapi

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inference_gateway/internal/models"
	"inference_gateway/internal/streaming"
)

func TestParsePrefixedID(t *testing.T) {
	id := uuid.New()

	parsed, err := parsePrefixedID(models.PrefixResponse+id.String(), models.PrefixResponse)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	// The bare UUID is accepted too.
	parsed, err = parsePrefixedID(id.String(), models.PrefixResponse)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = parsePrefixedID("resp_not-a-uuid", models.PrefixResponse)
	assert.Error(t, err)
}

func TestRenderResponse(t *testing.T) {
	convID := uuid.New()
	resp := &models.Response{
		ID:             uuid.New(),
		Model:          "llama-3",
		Status:         models.ResponseStatusCompleted,
		ConversationID: &convID,
		InputTokens:    100,
		OutputTokens:   50,
		Metadata:       models.JSONB{models.MetaRootResponse: true},
	}

	out := renderResponse(resp)
	assert.Equal(t, models.PrefixResponse+resp.ID.String(), out["id"])
	assert.Equal(t, models.PrefixConversation+convID.String(), out["conversation_id"])

	usage := out["usage"].(map[string]any)
	assert.Equal(t, 150, usage["total_tokens"])
}

func TestAssembleCompletionChat(t *testing.T) {
	result := &streaming.Result{
		ChatID:       "abc",
		Model:        "llama-3",
		Text:         "Hello!",
		InputTokens:  100,
		OutputTokens: 50,
		StopReason:   models.StopReasonCompleted,
	}

	out := assembleCompletion(models.InferenceKindChat, result)
	assert.Equal(t, "chat.completion", out["object"])
	assert.Equal(t, models.PrefixChatCmpl+"abc", out["id"])

	choices := out["choices"].([]map[string]any)
	message := choices[0]["message"].(map[string]any)
	assert.Equal(t, "Hello!", message["content"])
	assert.Equal(t, "stop", choices[0]["finish_reason"])
}

func TestAssembleCompletionTextFlavor(t *testing.T) {
	result := &streaming.Result{
		Model:      "llama-3",
		Text:       "once upon a time",
		StopReason: models.StopReasonLength,
	}

	out := assembleCompletion(models.InferenceKindCompletion, result)
	assert.Equal(t, "text_completion", out["object"])

	choices := out["choices"].([]map[string]any)
	assert.Equal(t, "once upon a time", choices[0]["text"])
	assert.Equal(t, "length", choices[0]["finish_reason"])
}

func TestNormalizeInput(t *testing.T) {
	messages, items, err := normalizeInput("hello")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0]["role"])
	assert.Len(t, items, 1)

	messages, _, err = normalizeInput([]any{
		map[string]any{"role": "system", "content": "be brief"},
		map[string]any{"role": "user", "content": "hi"},
	})
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	_, _, err = normalizeInput(nil)
	assert.Error(t, err)

	_, _, err = normalizeInput([]any{})
	assert.Error(t, err)
}
