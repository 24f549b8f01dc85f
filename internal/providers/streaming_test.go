package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamingBackendSubmit(t *testing.T) {
	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Request-Id", "req-42")
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	backend := NewStreamingBackend("be_test", server.URL, "secret-token")
	submission, err := backend.Submit(context.Background(), &InferenceRequest{
		Model: "llama-3",
		Payload: map[string]any{
			"messages":    []any{map[string]any{"role": "user", "content": "hello"}},
			"temperature": 1.5,
			"top_p":       0.9,
		},
	})
	require.NoError(t, err)
	defer submission.Stream.Close()

	assert.Equal(t, "req-42", submission.RequestID)

	// The payload is rewritten for the upstream's accepted range:
	// temperature clamped to [0,1], top_p dropped, streaming forced on.
	assert.Equal(t, 1.0, gotPayload["temperature"])
	_, hasTopP := gotPayload["top_p"]
	assert.False(t, hasTopP)
	assert.Equal(t, true, gotPayload["stream"])
	assert.Equal(t, "llama-3", gotPayload["model"])

	event, err := submission.Stream.Read()
	require.NoError(t, err)
	info := InspectFrame(event.Data)
	assert.Equal(t, "hi", info.Content)

	event, err = submission.Stream.Read()
	assert.Equal(t, io.EOF, err)
	assert.True(t, event.Done)
}

func TestStreamingBackendSubmitUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	backend := NewStreamingBackend("be_test", server.URL, "")
	_, err := backend.Submit(context.Background(), &InferenceRequest{
		Model:   "llama-3",
		Payload: map[string]any{},
	})
	assert.Error(t, err)
}

func TestStreamingBackendSignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/signature/chatcmpl-9", r.URL.Path)
		require.Equal(t, "ecdsa", r.URL.Query().Get("signing_algo"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chat_id":         "chatcmpl-9",
			"text":            "hello world",
			"signature":       "deadbeef",
			"signing_address": "02aabb",
			"signing_algo":    "ecdsa",
		})
	}))
	defer server.Close()

	backend := NewStreamingBackend("be_test", server.URL, "")
	sig, err := backend.Signature(context.Background(), "chatcmpl-9", "ecdsa")
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-9", sig.ChatID)
	assert.Equal(t, "deadbeef", sig.Signature)
	assert.Equal(t, "ecdsa", sig.SigningAlgo)
}

func TestExternalBackendNeverVerifiable(t *testing.T) {
	backend := NewExternalBackend("be_ext", "http://example.invalid/v1", "key")

	_, err := backend.AttestationReport(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotVerifiable)

	_, err = backend.Signature(context.Background(), "chatcmpl-1", "ecdsa")
	assert.ErrorIs(t, err, ErrNotVerifiable)
}
