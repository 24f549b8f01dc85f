package providers

import (
	"context"
	"encoding/json"
	"errors"

	"inference_gateway/internal/models"
)

// ErrNoProvider is returned by the pool when no healthy backend serves the
// requested model. Callers surface it as a retryable upstream error.
var ErrNoProvider = errors.New("no provider available for model")

// ErrNotVerifiable marks attestation operations against a backend that does
// not support them. This is a classification error, not a crash: external
// providers always return it.
var ErrNotVerifiable = errors.New("backend does not support attestation")

// InferenceRequest is a normalized upstream request: an OpenAI-style
// payload plus the canonical model name already resolved by the catalog.
type InferenceRequest struct {
	Model   string
	Payload map[string]any
	Stream  bool
}

// Submission is an accepted upstream request: the raw upstream request id
// and the frame stream. Closing the stream closes the upstream connection.
type Submission struct {
	RequestID string
	Stream    *StreamReader
}

// Usage is the terminator frame payload: token counts and the upstream
// stop reason, when present.
type Usage struct {
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// Backend speaks one upstream protocol flavor. Implementations: the
// internal streaming backend running inside the TEE (attestation capable)
// and external OpenAI-compatible providers (never verifiable).
type Backend interface {
	// ID returns the stable identifier of this backend instance
	ID() string

	// BaseURL returns the upstream base URL
	BaseURL() string

	// Kind returns internal-streaming or external
	Kind() string

	// Submit forwards the request and returns the frame stream. The
	// stream terminates with a usage frame or an error, exactly once.
	Submit(ctx context.Context, req *InferenceRequest) (*Submission, error)

	// HealthProbe checks whether the backend is reachable
	HealthProbe(ctx context.Context) error

	// AttestationReport fetches the TEE attestation blob
	AttestationReport(ctx context.Context, signingAlgo string) ([]byte, error)

	// Signature fetches the backend's signature over a chat's output text
	Signature(ctx context.Context, chatID, signingAlgo string) (*models.ChatSignature, error)

	// Close releases the backend's connections
	Close() error
}

// chatChunk is the subset of an OpenAI-style stream chunk the relay
// inspects. Everything else passes through opaque.
type chatChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text         string  `json:"text"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// FrameInfo is what the relay learns from one frame without altering it.
type FrameInfo struct {
	RequestID    string
	Content      string
	FinishReason string
	Usage        *Usage
}

// InspectFrame parses the fields the streaming pipeline observes while
// forwarding a frame. Unparseable frames carry no information and are
// forwarded as-is.
func InspectFrame(data []byte) FrameInfo {
	var chunk chatChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return FrameInfo{}
	}

	info := FrameInfo{RequestID: chunk.ID}
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		info.Content = choice.Delta.Content
		if info.Content == "" {
			info.Content = choice.Text
		}
		if choice.FinishReason != nil {
			info.FinishReason = *choice.FinishReason
		}
	}
	if chunk.Usage != nil {
		info.Usage = &Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			StopReason:   info.FinishReason,
		}
	}
	return info
}

// normalizePayload rewrites sampling parameters into the upstream's
// accepted range: temperature is clamped to [0, tempMax] and top_p is
// dropped whenever temperature is also set (temperature wins). The input
// map is not mutated.
func normalizePayload(payload map[string]any, tempMax float64) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}

	temp, hasTemp := floatField(out, "temperature")
	if hasTemp {
		if temp < 0 {
			temp = 0
		}
		if temp > tempMax {
			temp = tempMax
		}
		out["temperature"] = temp
		if _, hasTopP := out["top_p"]; hasTopP {
			delete(out, "top_p")
		}
	}
	return out
}

func floatField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
