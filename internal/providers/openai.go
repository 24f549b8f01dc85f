package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"inference_gateway/internal/models"
)

// External OpenAI-compatible providers accept the full [0,2] temperature
// range, so normalization clamps temperature into [0,2] and drops top_p
// when both are set.
const externalTempMax = 2.0

// ExternalBackend speaks to an external OpenAI-compatible provider
// (OpenAI, Anthropic or Gemini behind a compatibility endpoint). External
// providers never support attestation.
type ExternalBackend struct {
	id      string
	baseURL string // includes the version segment, e.g. https://api.openai.com/v1
	apiKey  string
	client  *http.Client
}

// NewExternalBackend creates an external provider client.
func NewExternalBackend(id, baseURL, apiKey string) *ExternalBackend {
	return &ExternalBackend{
		id:      id,
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// ID returns the backend id
func (b *ExternalBackend) ID() string { return b.id }

// BaseURL returns the upstream base URL
func (b *ExternalBackend) BaseURL() string { return b.baseURL }

// Kind returns external
func (b *ExternalBackend) Kind() string { return models.ProviderKindExternal }

// Submit forwards the request as a streaming chat completion.
func (b *ExternalBackend) Submit(ctx context.Context, req *InferenceRequest) (*Submission, error) {
	payload := normalizePayload(req.Payload, externalTempMax)
	payload["model"] = req.Model
	payload["stream"] = true
	payload["stream_options"] = map[string]any{"include_usage": true}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, errBody)
	}

	requestID := resp.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	return &Submission{
		RequestID: requestID,
		Stream:    NewStreamReader(resp.Body),
	}, nil
}

// HealthProbe lists models as a reachability check.
func (b *ExternalBackend) HealthProbe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("backend unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// AttestationReport always fails: external providers are not verifiable.
func (b *ExternalBackend) AttestationReport(ctx context.Context, signingAlgo string) ([]byte, error) {
	return nil, ErrNotVerifiable
}

// Signature always fails: external providers are not verifiable.
func (b *ExternalBackend) Signature(ctx context.Context, chatID, signingAlgo string) (*models.ChatSignature, error) {
	return nil, ErrNotVerifiable
}

// Close releases idle connections.
func (b *ExternalBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
