package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/models"
	"inference_gateway/internal/providers"
	"inference_gateway/internal/ratelimit"
	"inference_gateway/internal/responses"
)

//
// Fakes
//

type scriptedBackend struct {
	id        string
	kind      string
	body      io.ReadCloser
	submitErr error
	requestID string

	signatures []string // chat ids signatures were fetched for
}

func (b *scriptedBackend) ID() string      { return b.id }
func (b *scriptedBackend) BaseURL() string { return "http://" + b.id }
func (b *scriptedBackend) Kind() string    { return b.kind }

func (b *scriptedBackend) Submit(ctx context.Context, req *providers.InferenceRequest) (*providers.Submission, error) {
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	return &providers.Submission{
		RequestID: b.requestID,
		Stream:    providers.NewStreamReader(b.body),
	}, nil
}

func (b *scriptedBackend) HealthProbe(ctx context.Context) error { return nil }

func (b *scriptedBackend) AttestationReport(ctx context.Context, signingAlgo string) ([]byte, error) {
	return []byte("{}"), nil
}

func (b *scriptedBackend) Signature(ctx context.Context, chatID, signingAlgo string) (*models.ChatSignature, error) {
	b.signatures = append(b.signatures, chatID)
	return &models.ChatSignature{ChatID: chatID, SigningAlgo: signingAlgo}, nil
}

func (b *scriptedBackend) Close() error { return nil }

func sseBody(frames ...string) io.ReadCloser {
	var sb strings.Builder
	for _, frame := range frames {
		sb.WriteString("data: " + frame + "\n\n")
	}
	sb.WriteString("data: [DONE]\n\n")
	return io.NopCloser(strings.NewReader(sb.String()))
}

type fakeSelector struct {
	mu       sync.Mutex
	backends []providers.Backend
	failures []string
}

func (f *fakeSelector) Select(model, conversationID string) (providers.Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.backends) == 0 {
		return nil, providers.ErrNoProvider
	}
	backend := f.backends[0]
	if len(f.backends) > 1 {
		f.backends = f.backends[1:]
	}
	return backend, nil
}

func (f *fakeSelector) ReportFailure(backendID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, backendID)
}

type fakeResolver struct {
	model *models.Model
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, name string) (*models.Model, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.model, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	checkErr error
	entries  []*models.UsageLogEntry
	seen     map[string]bool
}

func (f *fakeLedger) Check(ctx context.Context, key *models.APIKey) error { return f.checkErr }

func (f *fakeLedger) Record(ctx context.Context, entry *models.UsageLogEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if entry.InferenceID != nil {
		dedupKey := entry.OrganizationID.String() + ":" + *entry.InferenceID
		if f.seen[dedupKey] {
			return false, nil
		}
		f.seen[dedupKey] = true
	}
	f.entries = append(f.entries, entry)
	return true, nil
}

type fakeLimiter struct {
	allowed    bool
	retryAfter time.Duration
}

func (f *fakeLimiter) Allow(principal string, class ratelimit.Class) (bool, time.Duration) {
	return f.allowed, f.retryAfter
}

type fakeResponses struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*models.Response
	failMsgs map[uuid.UUID]string
	cancels  map[uuid.UUID]context.CancelFunc
}

func newFakeResponses() *fakeResponses {
	return &fakeResponses{
		rows:     map[uuid.UUID]*models.Response{},
		failMsgs: map[uuid.UUID]string{},
		cancels:  map[uuid.UUID]context.CancelFunc{},
	}
}

func (f *fakeResponses) Create(ctx context.Context, params responses.CreateParams) (*models.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &models.Response{
		ID:             uuid.New(),
		WorkspaceID:    params.WorkspaceID,
		APIKeyID:       params.APIKeyID,
		Model:          params.Model,
		Status:         models.ResponseStatusInProgress,
		ConversationID: params.ConversationID,
		Metadata:       params.Metadata,
	}
	f.rows[resp.ID] = resp
	return resp, nil
}

func (f *fakeResponses) finish(id uuid.UUID, status string, in, out int) *models.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := f.rows[id]
	if resp != nil && !resp.IsTerminal() {
		resp.Status = status
		resp.InputTokens = in
		resp.OutputTokens = out
	}
	return resp
}

func (f *fakeResponses) Complete(ctx context.Context, id uuid.UUID, in, out int, text string) (*models.Response, error) {
	return f.finish(id, models.ResponseStatusCompleted, in, out), nil
}

func (f *fakeResponses) Fail(ctx context.Context, id uuid.UUID, in, out int, msg string) (*models.Response, error) {
	f.mu.Lock()
	f.failMsgs[id] = msg
	f.mu.Unlock()
	return f.finish(id, models.ResponseStatusFailed, in, out), nil
}

func (f *fakeResponses) MarkCancelled(ctx context.Context, id uuid.UUID, in, out int) (*models.Response, error) {
	return f.finish(id, models.ResponseStatusCancelled, in, out), nil
}

func (f *fakeResponses) RegisterCancel(id uuid.UUID, cancel context.CancelFunc) func() {
	f.mu.Lock()
	f.cancels[id] = cancel
	f.mu.Unlock()
	return func() {}
}

type fakeBinder struct {
	mu    sync.Mutex
	bound []string
}

func (f *fakeBinder) Enabled() bool { return true }

func (f *fakeBinder) Bind(ctx context.Context, backend providers.Backend, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound = append(f.bound, chatID)
	return nil
}

//
// Harness
//

type harness struct {
	pipeline  *Pipeline
	selector  *fakeSelector
	resolver  *fakeResolver
	ledger    *fakeLedger
	responses *fakeResponses
	binder    *fakeBinder
	key       *models.APIKey
}

func newHarness(backends ...providers.Backend) *harness {
	h := &harness{
		selector:  &fakeSelector{backends: backends},
		ledger:    &fakeLedger{},
		responses: newFakeResponses(),
		binder:    &fakeBinder{},
		key: &models.APIKey{
			ID:             uuid.New(),
			WorkspaceID:    uuid.New(),
			OrganizationID: uuid.New(),
			IsActive:       true,
		},
	}
	h.resolver = &fakeResolver{model: &models.Model{
		ID:                 uuid.New(),
		ModelName:          "llama-3",
		InputCostPerToken:  1000,
		OutputCostPerToken: 1000,
		Verifiable:         true,
		ProviderKind:       models.ProviderKindInternalStreaming,
		IsActive:           true,
	}}
	h.pipeline = NewPipeline(
		Config{IdleTimeout: time.Second, TotalDeadline: 5 * time.Second},
		h.selector, h.resolver, h.ledger, &fakeLimiter{allowed: true},
		h.responses, h.binder, nil,
	)
	return h
}

type collector struct {
	mu     sync.Mutex
	events []Event
	failAt int // emit fails once this many events were accepted; 0 = never
}

func (c *collector) emit(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAt > 0 && len(c.events) >= c.failAt {
		return errors.New("client went away")
	}
	c.events = append(c.events, event)
	return nil
}

func (c *collector) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		switch {
		case e.Done:
			out = append(out, "[DONE]")
		case e.Name != "":
			out = append(out, e.Name)
		default:
			out = append(out, "data")
		}
	}
	return out
}

func responseRequest(key *models.APIKey, stream bool) *Request {
	return &Request{
		Kind:              models.InferenceKindResponse,
		Model:             "llama-3",
		Payload:           map[string]any{"messages": []any{}},
		Stream:            stream,
		Key:               key,
		CreateResponseRow: true,
	}
}

const usageFrame = `{"id":"chatcmpl-77","choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":100,"completion_tokens":50}}`

func deltaFrame(content string) string {
	return fmt.Sprintf(`{"id":"chatcmpl-77","choices":[{"delta":{"content":%q}}]}`, content)
}

//
// Scenarios
//

func TestPipelineStreamingSuccess(t *testing.T) {
	backend := &scriptedBackend{
		id:        "be_1",
		kind:      models.ProviderKindInternalStreaming,
		requestID: "req-1",
		body:      sseBody(deltaFrame("Hel"), deltaFrame("lo"), deltaFrame("!"), usageFrame),
	}
	h := newHarness(backend)
	out := &collector{}

	req := responseRequest(h.key, true)
	req.IdempotencyKey = "req-42"

	result, err := h.pipeline.Run(context.Background(), req, out.emit)
	require.NoError(t, err)

	names := out.names()
	require.GreaterOrEqual(t, len(names), 4)
	assert.Equal(t, "response.created", names[0])
	assert.Contains(t, names, "response.output_text.delta")
	assert.Equal(t, "response.completed", names[len(names)-2])
	assert.Equal(t, "[DONE]", names[len(names)-1])

	assert.Equal(t, "Hello!", result.Text)
	assert.Equal(t, 100, result.InputTokens)
	assert.Equal(t, 50, result.OutputTokens)
	assert.Equal(t, models.ResponseStatusCompleted, result.Response.Status)

	// 150 tokens at 1000 nano-units each.
	require.Len(t, h.ledger.entries, 1)
	entry := h.ledger.entries[0]
	assert.Equal(t, int64(150_000), entry.TotalCost)
	assert.Equal(t, 150, entry.TotalTokens)
	assert.Equal(t, models.StopReasonCompleted, entry.StopReason)
	require.NotNil(t, entry.InferenceID)
	assert.Equal(t, "req-42", *entry.InferenceID)
	require.NotNil(t, entry.TTFTMs)

	// The verifiable model got its signature bound.
	assert.Equal(t, []string{"chatcmpl-77"}, h.binder.bound)
}

func TestPipelineIdempotentRetry(t *testing.T) {
	h := newHarness()

	for i := 0; i < 2; i++ {
		backend := &scriptedBackend{
			id:        "be_1",
			kind:      models.ProviderKindInternalStreaming,
			requestID: "req-1",
			body:      sseBody(deltaFrame("hi"), usageFrame),
		}
		h.selector.backends = []providers.Backend{backend}

		req := responseRequest(h.key, true)
		req.IdempotencyKey = "req-42"
		_, err := h.pipeline.Run(context.Background(), req, (&collector{}).emit)
		require.NoError(t, err)
	}

	// Same Idempotency-Key twice: at most one ledger entry.
	assert.Len(t, h.ledger.entries, 1)
}

func TestPipelineClientDisconnect(t *testing.T) {
	backend := &scriptedBackend{
		id:        "be_1",
		kind:      models.ProviderKindInternalStreaming,
		requestID: "req-1",
		body:      sseBody(deltaFrame("a"), deltaFrame("b"), deltaFrame("c"), deltaFrame("d"), usageFrame),
	}
	h := newHarness(backend)

	// The client accepts response.created plus two deltas, then hangs up.
	out := &collector{failAt: 3}

	result, err := h.pipeline.Run(context.Background(), responseRequest(h.key, true), out.emit)
	require.NoError(t, err)

	assert.Equal(t, models.ResponseStatusCancelled, result.Response.Status)
	assert.Equal(t, models.StopReasonClientDisconnect, result.StopReason)
	// Partial tokens are not billed.
	assert.Empty(t, h.ledger.entries)
}

func TestPipelineManualCancel(t *testing.T) {
	pr, pw := io.Pipe()
	backend := &scriptedBackend{
		id:        "be_1",
		kind:      models.ProviderKindInternalStreaming,
		requestID: "req-1",
		body:      pr,
	}
	h := newHarness(backend)
	out := &collector{}

	go func() {
		_, _ = pw.Write([]byte("data: " + deltaFrame("a") + "\n\n"))
		// Cancel the response once the stream is live.
		for {
			h.responses.mu.Lock()
			var cancel context.CancelFunc
			for _, c := range h.responses.cancels {
				cancel = c
			}
			h.responses.mu.Unlock()
			if cancel != nil {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	result, err := h.pipeline.Run(context.Background(), responseRequest(h.key, true), out.emit)
	require.NoError(t, err)

	assert.Equal(t, models.ResponseStatusCancelled, result.Response.Status)
	assert.Empty(t, h.ledger.entries)
	pw.Close()
}

func TestPipelineUnknownModelWritesFailedItem(t *testing.T) {
	h := newHarness()
	h.resolver.err = apierr.New(apierr.KindNotFound, "model not found")
	out := &collector{}

	result, err := h.pipeline.Run(context.Background(), responseRequest(h.key, true), out.emit)
	require.Error(t, err)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))

	// Exactly one response.failed event, then [DONE].
	names := out.names()
	failedCount := 0
	for _, n := range names {
		if n == "response.failed" {
			failedCount++
		}
	}
	assert.Equal(t, 1, failedCount)
	assert.Equal(t, "[DONE]", names[len(names)-1])

	require.NotNil(t, result.Response)
	assert.Equal(t, models.ResponseStatusFailed, result.Response.Status)

	// The failed item carries the sanitized message, never the prompt.
	msg := h.responses.failMsgs[result.Response.ID]
	assert.Equal(t, "model not found", msg)
	assert.Empty(t, h.ledger.entries)
}

func TestPipelineRateLimited(t *testing.T) {
	h := newHarness()
	h.pipeline = NewPipeline(
		Config{IdleTimeout: time.Second, TotalDeadline: time.Second},
		h.selector, h.resolver, h.ledger,
		&fakeLimiter{allowed: false, retryAfter: 7 * time.Second},
		h.responses, h.binder, nil,
	)

	_, err := h.pipeline.Run(context.Background(), responseRequest(h.key, true), (&collector{}).emit)
	require.Error(t, err)
	assert.Equal(t, apierr.KindRateLimited, apierr.KindOf(err))

	var typed *apierr.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, 7, typed.RetryAfterSeconds)

	// No model resolution, no backend call.
	assert.Zero(t, h.resolver.calls)
}

func TestPipelineInsufficientCredits(t *testing.T) {
	h := newHarness()
	h.ledger.checkErr = apierr.New(apierr.KindInsufficientCredits, "organization spend limit reached")

	_, err := h.pipeline.Run(context.Background(), responseRequest(h.key, true), (&collector{}).emit)
	require.Error(t, err)
	assert.Equal(t, apierr.KindInsufficientCredits, apierr.KindOf(err))
	assert.Zero(t, h.resolver.calls, "admission failure must precede any backend work")
}

func TestPipelineImageValidationBeforeBackend(t *testing.T) {
	h := newHarness()
	req := responseRequest(h.key, true)
	req.Payload = map[string]any{
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{
						"type":      "image_url",
						"image_url": map[string]any{"url": "data:image/gif;base64,R0lGODlh"},
					},
				},
			},
		},
	}

	_, err := h.pipeline.Run(context.Background(), req, (&collector{}).emit)
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	assert.Zero(t, h.resolver.calls)
}

func TestPipelineRetriesOnceAgainstDifferentBackend(t *testing.T) {
	broken := &scriptedBackend{
		id:        "be_bad",
		kind:      models.ProviderKindInternalStreaming,
		submitErr: errors.New("connection refused"),
	}
	good := &scriptedBackend{
		id:        "be_good",
		kind:      models.ProviderKindInternalStreaming,
		requestID: "req-2",
		body:      sseBody(deltaFrame("ok"), usageFrame),
	}
	h := newHarness(broken, good)
	out := &collector{}

	result, err := h.pipeline.Run(context.Background(), responseRequest(h.key, true), out.emit)
	require.NoError(t, err)

	assert.Equal(t, models.ResponseStatusCompleted, result.Response.Status)
	assert.Equal(t, []string{"be_bad"}, h.selector.failures)
}

func TestPipelineNoProvider(t *testing.T) {
	h := newHarness() // empty selector
	out := &collector{}

	result, err := h.pipeline.Run(context.Background(), responseRequest(h.key, true), out.emit)
	require.Error(t, err)
	assert.Equal(t, apierr.KindUpstreamUnavailable, apierr.KindOf(err))
	assert.True(t, apierr.Retryable(err))
	assert.Equal(t, models.ResponseStatusFailed, result.Response.Status)
}

func TestPipelineIdleTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	backend := &scriptedBackend{
		id:        "be_1",
		kind:      models.ProviderKindInternalStreaming,
		requestID: "req-1",
		body:      pr,
	}
	h := newHarness(backend)
	h.pipeline = NewPipeline(
		Config{IdleTimeout: 50 * time.Millisecond, TotalDeadline: 5 * time.Second},
		h.selector, h.resolver, h.ledger, &fakeLimiter{allowed: true},
		h.responses, h.binder, nil,
	)
	out := &collector{}

	result, err := h.pipeline.Run(context.Background(), responseRequest(h.key, true), out.emit)
	require.Error(t, err)
	assert.Equal(t, apierr.KindTimeout, apierr.KindOf(err))
	assert.Equal(t, models.ResponseStatusFailed, result.Response.Status)

	// The timeout is billed as a zero-cost row with stop reason timeout.
	require.Len(t, h.ledger.entries, 1)
	assert.Equal(t, int64(0), h.ledger.entries[0].TotalCost)
	assert.Equal(t, models.StopReasonTimeout, h.ledger.entries[0].StopReason)
}

func TestPipelineChatVariantForwardsRawFrames(t *testing.T) {
	backend := &scriptedBackend{
		id:        "be_1",
		kind:      models.ProviderKindInternalStreaming,
		requestID: "req-1",
		body:      sseBody(deltaFrame("hi"), usageFrame),
	}
	h := newHarness(backend)
	out := &collector{}

	req := &Request{
		Kind:    models.InferenceKindChat,
		Model:   "llama-3",
		Payload: map[string]any{"messages": []any{}},
		Stream:  true,
		Key:     h.key,
	}
	result, err := h.pipeline.Run(context.Background(), req, out.emit)
	require.NoError(t, err)

	names := out.names()
	assert.Equal(t, []string{"data", "data", "[DONE]"}, names)
	assert.Nil(t, result.Response)
	require.Len(t, h.ledger.entries, 1)
	assert.Nil(t, h.ledger.entries[0].ResponseID)
}
