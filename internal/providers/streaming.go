package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"inference_gateway/internal/models"
)

// The internal streaming backend runs inside the TEE and accepts
// temperatures in [0,1] only.
const streamingTempMax = 1.0

// StreamingBackend speaks to an internal streaming inference server: chat
// completions plus the attestation and signature endpoints.
type StreamingBackend struct {
	id      string
	baseURL string
	bearer  string
	client  *http.Client
}

// NewStreamingBackend creates an internal-streaming backend client. The
// http.Client has no overall timeout: stream lifetimes are governed by the
// request context, which the pipeline bounds with its own deadlines.
func NewStreamingBackend(id, baseURL, bearer string) *StreamingBackend {
	return &StreamingBackend{
		id:      id,
		baseURL: baseURL,
		bearer:  bearer,
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
func (b *StreamingBackend) ID() string { return b.id }

// BaseURL returns the upstream base URL
func (b *StreamingBackend) BaseURL() string { return b.baseURL }

// Kind returns internal-streaming
func (b *StreamingBackend) Kind() string { return models.ProviderKindInternalStreaming }

// Submit forwards the request as a streaming chat completion. The upstream
// is always asked to stream and to include a usage frame; non-streaming
// client responses are assembled by the pipeline.
func (b *StreamingBackend) Submit(ctx context.Context, req *InferenceRequest) (*Submission, error) {
	payload := normalizePayload(req.Payload, streamingTempMax)
	payload["model"] = req.Model
	payload["stream"] = true
	payload["stream_options"] = map[string]any{"include_usage": true}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := b.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if b.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.bearer)
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

// HealthProbe checks the upstream health endpoint.
func (b *StreamingBackend) HealthProbe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return err
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

// AttestationReport fetches the TEE attestation blob, optionally for one
// signing algorithm.
func (b *StreamingBackend) AttestationReport(ctx context.Context, signingAlgo string) ([]byte, error) {
	endpoint := b.baseURL + "/v1/attestation/report"
	if signingAlgo != "" {
		endpoint += "?signing_algo=" + url.QueryEscape(signingAlgo)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if b.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.bearer)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("attestation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attestation endpoint returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
}

// Signature fetches the backend's signature over the canonicalized output
// text of one chat.
func (b *StreamingBackend) Signature(ctx context.Context, chatID, signingAlgo string) (*models.ChatSignature, error) {
	endpoint := b.baseURL + "/v1/signature/" + url.PathEscape(chatID)
	if signingAlgo != "" {
		endpoint += "?signing_algo=" + url.QueryEscape(signingAlgo)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if b.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.bearer)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("signature request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signature endpoint returned status %d", resp.StatusCode)
	}

	var sig struct {
		ChatID         string `json:"chat_id"`
		Text           string `json:"text"`
		Signature      string `json:"signature"`
		SigningAddress string `json:"signing_address"`
		SigningAlgo    string `json:"signing_algo"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sig); err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}

	return &models.ChatSignature{
		ChatID:         sig.ChatID,
		Text:           sig.Text,
		Signature:      sig.Signature,
		SigningAddress: sig.SigningAddress,
		SigningAlgo:    sig.SigningAlgo,
	}, nil
}

// Close releases idle connections.
func (b *StreamingBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
