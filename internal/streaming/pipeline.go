package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/logging"
	"inference_gateway/internal/models"
	"inference_gateway/internal/providers"
	"inference_gateway/internal/ratelimit"
	"inference_gateway/internal/responses"
)

// Event is one downstream SSE event. Name is empty for data-only frames
// (the OpenAI-compatible endpoints); the responses endpoint names its
// events. Events form a strictly ordered sequence ending in a terminal
// event followed by Done.
type Event struct {
	Name string
	Data []byte
	Done bool
}

// EmitFunc delivers one event to the client. A write failure means the
// client is gone; the pipeline treats it as a disconnect.
type EmitFunc func(Event) error

// Request is one admitted-for-processing inference call.
type Request struct {
	Kind    string // models.InferenceKind*
	Model   string // as supplied; aliases are fine
	Payload map[string]any
	Stream  bool

	ConversationID     *uuid.UUID
	PreviousResponseID *uuid.UUID
	InputItems         []models.JSONB
	Metadata           models.JSONB
	IdempotencyKey     string

	Key *models.APIKey

	// CreateResponseRow selects the response-API variant: a persisted
	// response row with lifecycle events. Plain chat completions skip it.
	CreateResponseRow bool
}

// Result is what the caller learns after the stream ends. Non-streaming
// clients get their single JSON object assembled from it.
type Result struct {
	Started      bool // at least one event was emitted
	Response     *models.Response
	ChatID       string
	Model        string
	Text         string
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// Narrow views of the collaborating services; production wiring passes the
// real ones, tests pass fakes.

type selector interface {
	Select(modelName, conversationID string) (providers.Backend, error)
	ReportFailure(backendID string)
}

type resolver interface {
	Resolve(ctx context.Context, name string) (*models.Model, error)
}

type ledger interface {
	Check(ctx context.Context, key *models.APIKey) error
	Record(ctx context.Context, entry *models.UsageLogEntry) (bool, error)
}

type limiter interface {
	Allow(principal string, class ratelimit.Class) (bool, time.Duration)
}

type responseStore interface {
	Create(ctx context.Context, params responses.CreateParams) (*models.Response, error)
	Complete(ctx context.Context, id uuid.UUID, inputTokens, outputTokens int, outputText string) (*models.Response, error)
	Fail(ctx context.Context, id uuid.UUID, inputTokens, outputTokens int, sanitizedMessage string) (*models.Response, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, inputTokens, outputTokens int) (*models.Response, error)
	RegisterCancel(id uuid.UUID, cancel context.CancelFunc) func()
}

type binder interface {
	Enabled() bool
	Bind(ctx context.Context, backend providers.Backend, chatID string) error
}

// PostFlightFunc hands best-effort post-flight work (last-used stamp,
// archive export) off the hot path.
type PostFlightFunc func(ctx context.Context, apiKeyID uuid.UUID, usedAt time.Time, archive *logging.ArchiveRecord)

// Config holds the pipeline deadlines.
type Config struct {
	IdleTimeout   time.Duration // max gap between frames
	TotalDeadline time.Duration // overall request deadline
}

// Pipeline is the inference dispatch engine: admission, resolution,
// backend selection, relay, terminal accounting.
type Pipeline struct {
	cfg        Config
	pool       selector
	catalog    resolver
	ledger     ledger
	limiter    limiter
	responses  responseStore
	binder     binder
	postFlight PostFlightFunc
	logger     *logging.Logger
}

// NewPipeline wires the pipeline. binder and postFlight may be nil.
func NewPipeline(cfg Config, pool selector, catalog resolver, ledger ledger, limiter limiter, responses responseStore, binder binder, postFlight PostFlightFunc) *Pipeline {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.TotalDeadline <= 0 {
		cfg.TotalDeadline = 10 * time.Minute
	}
	return &Pipeline{
		cfg:        cfg,
		pool:       pool,
		catalog:    catalog,
		ledger:     ledger,
		limiter:    limiter,
		responses:  responses,
		binder:     binder,
		postFlight: postFlight,
		logger:     logging.NewLogger("pipeline"),
	}
}

// Run executes one inference end to end, emitting events downstream. A
// non-nil error before result.Started means nothing was emitted and the
// caller maps the error to an HTTP status; after the stream starts, all
// terminal outcomes are delivered as events and the error mirrors them
// for logging.
func (p *Pipeline) Run(ctx context.Context, req *Request, emit EmitFunc) (*Result, error) {
	result := &Result{Model: req.Model}

	// 1. Admission.
	class := ratelimit.ClassText
	if req.Kind == models.InferenceKindImage {
		class = ratelimit.ClassImage
	}
	if allowed, retryAfter := p.limiter.Allow(req.Key.ID.String(), class); !allowed {
		return result, &apierr.Error{
			Kind:              apierr.KindRateLimited,
			Message:           "rate limit exceeded",
			RetryAfterSeconds: int(retryAfter.Seconds() + 0.5),
		}
	}
	if err := p.ledger.Check(ctx, req.Key); err != nil {
		return result, err
	}
	if err := ValidatePayload(req.Payload); err != nil {
		return result, err
	}

	// 2. Resolve; the pricing snapshot is frozen here for the whole
	// request.
	model, err := p.catalog.Resolve(ctx, req.Model)
	if err != nil {
		return p.failBeforeStream(ctx, req, result, emit, err)
	}
	pricing := model.PricingSnapshot()
	result.Model = model.ModelName

	conversationID := ""
	if req.ConversationID != nil {
		conversationID = req.ConversationID.String()
	}

	// 4. Response row for the response-API variant.
	if req.CreateResponseRow {
		resp, err := p.responses.Create(ctx, responses.CreateParams{
			WorkspaceID:        req.Key.WorkspaceID,
			APIKeyID:           req.Key.ID,
			Model:              model.ModelName,
			ConversationID:     req.ConversationID,
			PreviousResponseID: req.PreviousResponseID,
			InputItems:         req.InputItems,
			Metadata:           req.Metadata,
		})
		if err != nil {
			return result, err
		}
		result.Response = resp

		streamCtx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		unregister := p.responses.RegisterCancel(resp.ID, func() { cancel(errManualCancel) })
		defer unregister()
		ctx = streamCtx

		if err := p.emitResponseEvent(emit, result, "response.created", resp, nil); err != nil {
			// The client is gone before dispatch: the row ends cancelled
			// and nothing is billed.
			finishCtx, cancelFinish := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancelFinish()
			if cancelled, err := p.responses.MarkCancelled(finishCtx, resp.ID, 0, 0); err == nil {
				result.Response = cancelled
			}
			result.StopReason = models.StopReasonClientDisconnect
			return result, nil
		}
	}

	// 3 + 5. Dispatch with one internal retry against a different backend
	// before any frame is delivered.
	backend, submission, err := p.dispatch(ctx, model.ModelName, conversationID, req)
	if err != nil {
		return p.failStream(ctx, req, result, emit, err, models.StopReasonProviderError)
	}
	defer submission.Stream.Close()

	// 6. Relay.
	return p.relay(ctx, req, result, emit, model, pricing, backend, submission)
}

var errManualCancel = errors.New("response cancelled by request")

func (p *Pipeline) dispatch(ctx context.Context, canonicalModel, conversationID string, req *Request) (providers.Backend, *providers.Submission, error) {
	var lastErr error
	var lastBackendID string

	for attempt := 0; attempt < 2; attempt++ {
		backend, err := p.pool.Select(canonicalModel, conversationID)
		if err != nil {
			if lastErr != nil {
				break
			}
			return nil, nil, apierr.New(apierr.KindUpstreamUnavailable, "no backend available for model")
		}
		if backend.ID() == lastBackendID {
			break
		}

		submission, err := backend.Submit(ctx, &providers.InferenceRequest{
			Model:   canonicalModel,
			Payload: req.Payload,
			Stream:  true,
		})
		if err == nil {
			return backend, submission, nil
		}

		p.pool.ReportFailure(backend.ID())
		p.logger.Warn("backend submit failed", "backend", backend.ID(), "model", canonicalModel, "error", logging.SanitizeError(err))
		lastErr = err
		lastBackendID = backend.ID()

		if ctx.Err() != nil {
			break
		}
	}

	return nil, nil, apierr.New(apierr.KindUpstreamUnavailable, "upstream unavailable")
}

// relay forwards frames one-for-one while observing TTFT, inter-token
// latency, token counts and the stop reason, then runs the terminal
// branch.
func (p *Pipeline) relay(ctx context.Context, req *Request, result *Result, emit EmitFunc, model *models.Model, pricing models.Pricing, backend providers.Backend, submission *providers.Submission) (*Result, error) {
	deadlineCtx, cancelDeadline := context.WithTimeout(ctx, p.cfg.TotalDeadline)
	defer cancelDeadline()

	frames := pump(submission.Stream)

	start := time.Now()
	var (
		firstTokenAt time.Time
		lastFrameAt  time.Time
		interTotal   time.Duration
		interCount   int
		deltaFrames  int
		usage        *providers.Usage
		finishReason string
		text         []byte
	)

	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()

	terminal := ""
relayLoop:
	for {
		select {
		case <-deadlineCtx.Done():
			submission.Stream.Close()
			if errors.Is(context.Cause(deadlineCtx), errManualCancel) {
				terminal = models.StopReasonClientDisconnect
			} else if deadlineCtx.Err() == context.DeadlineExceeded {
				terminal = models.StopReasonTimeout
			} else {
				// The caller's context died: the client went away.
				terminal = models.StopReasonClientDisconnect
			}
			break relayLoop

		case <-idle.C:
			submission.Stream.Close()
			terminal = models.StopReasonTimeout
			break relayLoop

		case msg, ok := <-frames:
			if !ok || msg.done {
				terminal = stopReasonFromFinish(finishReason)
				break relayLoop
			}
			if msg.err != nil {
				if deadlineCtx.Err() != nil || errors.Is(context.Cause(deadlineCtx), errManualCancel) {
					terminal = models.StopReasonClientDisconnect
					break relayLoop
				}
				p.logger.Warn("upstream stream error", "backend", backend.ID(), "error", logging.SanitizeError(msg.err))
				terminal = models.StopReasonProviderError
				break relayLoop
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.cfg.IdleTimeout)

			info := providers.InspectFrame(msg.data)
			now := time.Now()
			if info.RequestID != "" && result.ChatID == "" {
				result.ChatID = info.RequestID
			}
			if info.Content != "" {
				if firstTokenAt.IsZero() {
					firstTokenAt = now
				} else {
					interTotal += now.Sub(lastFrameAt)
					interCount++
				}
				lastFrameAt = now
				deltaFrames++
				text = append(text, info.Content...)
			}
			if info.FinishReason != "" {
				finishReason = info.FinishReason
			}
			if info.Usage != nil {
				usage = info.Usage
			}

			if err := p.forwardFrame(req, emit, result, info, msg.data); err != nil {
				submission.Stream.Close()
				terminal = models.StopReasonClientDisconnect
				break relayLoop
			}
		}
	}

	// Drain the pump so it can observe the closed stream and exit; frames
	// after the terminal decision are discarded.
	submission.Stream.Close()
	go func() {
		for range frames {
		}
	}()

	// Token counts: the usage frame is authoritative; otherwise fall back
	// to the delta count.
	inputTokens, outputTokens := 0, deltaFrames
	if usage != nil {
		inputTokens, outputTokens = usage.InputTokens, usage.OutputTokens
		if usage.StopReason != "" && terminal == models.StopReasonCompleted {
			terminal = stopReasonFromFinish(usage.StopReason)
		}
	}
	result.InputTokens = inputTokens
	result.OutputTokens = outputTokens
	result.Text = string(text)
	result.StopReason = terminal

	var ttftMs *int64
	if !firstTokenAt.IsZero() {
		v := firstTokenAt.Sub(start).Milliseconds()
		ttftMs = &v
	}
	var avgITL *float64
	if interCount > 0 {
		v := float64(interTotal.Milliseconds()) / float64(interCount)
		avgITL = &v
	}

	// 8. Terminal branch. Persistence and billing run on a fresh context:
	// the request context may already be dead.
	finishCtx, cancelFinish := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelFinish()

	switch terminal {
	case models.StopReasonClientDisconnect:
		// Partial tokens are not billed.
		if result.Response != nil {
			if resp, err := p.responses.MarkCancelled(finishCtx, result.Response.ID, inputTokens, outputTokens); err == nil {
				result.Response = resp
			}
			p.emitTerminal(req, emit, result, "response.cancelled", nil)
		}
		return result, nil

	case models.StopReasonProviderError, models.StopReasonTimeout:
		kind := apierr.KindUpstreamError
		if terminal == models.StopReasonTimeout {
			kind = apierr.KindTimeout
		}
		outErr := apierr.New(kind, "upstream provider failed mid-stream")
		p.recordUsage(finishCtx, req, result, model, models.Pricing{}, submission.RequestID, terminal, ttftMs, avgITL, apierr.KindOf(outErr))
		if result.Response != nil {
			if resp, err := p.responses.Fail(finishCtx, result.Response.ID, inputTokens, outputTokens, apierr.Message(outErr)); err == nil {
				result.Response = resp
			}
		}
		p.emitTerminal(req, emit, result, "response.failed", outErr)
		return result, outErr

	default:
		// Success. Ledger write commits before response.completed goes
		// out.
		if result.Response != nil {
			if resp, err := p.responses.Complete(finishCtx, result.Response.ID, inputTokens, outputTokens, result.Text); err == nil {
				result.Response = resp
			}
		}
		p.recordUsage(finishCtx, req, result, model, pricing, submission.RequestID, terminal, ttftMs, avgITL, "")
		p.bindAttestation(finishCtx, model, backend, result)
		p.emitTerminal(req, emit, result, "response.completed", nil)
		return result, nil
	}
}

// forwardFrame relays one upstream frame downstream in the shape the route
// expects.
func (p *Pipeline) forwardFrame(req *Request, emit EmitFunc, result *Result, info providers.FrameInfo, raw []byte) error {
	result.Started = true
	if !req.Stream {
		return nil
	}

	if req.CreateResponseRow {
		if info.Content == "" {
			return nil
		}
		data, err := json.Marshal(map[string]any{
			"response_id": result.Response.ExternalID(),
			"delta":       info.Content,
		})
		if err != nil {
			return err
		}
		return emit(Event{Name: "response.output_text.delta", Data: data})
	}

	return emit(Event{Data: raw})
}

func (p *Pipeline) emitResponseEvent(emit EmitFunc, result *Result, name string, resp *models.Response, extra map[string]any) error {
	payload := map[string]any{
		"id":     resp.ExternalID(),
		"object": "response",
		"status": resp.Status,
		"model":  resp.Model,
	}
	if resp.ConversationID != nil {
		payload["conversation_id"] = models.PrefixConversation + resp.ConversationID.String()
	}
	for k, v := range extra {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	result.Started = true
	return emit(Event{Name: name, Data: data})
}

// emitTerminal sends the terminal event and the [DONE] sentinel. Emit
// failures are ignored: the client may already be gone.
func (p *Pipeline) emitTerminal(req *Request, emit EmitFunc, result *Result, name string, outErr error) {
	if !req.Stream {
		return
	}

	if req.CreateResponseRow && result.Response != nil {
		extra := map[string]any{
			"usage": map[string]any{
				"input_tokens":  result.InputTokens,
				"output_tokens": result.OutputTokens,
				"total_tokens":  result.InputTokens + result.OutputTokens,
			},
		}
		if outErr != nil {
			extra["error"] = map[string]any{
				"type":    string(apierr.KindOf(outErr)),
				"message": apierr.Message(outErr),
			}
		}
		_ = p.emitResponseEvent(emit, result, name, result.Response, extra)
	} else if outErr != nil {
		data, err := json.Marshal(map[string]any{
			"error": map[string]any{
				"type":    string(apierr.KindOf(outErr)),
				"message": apierr.Message(outErr),
			},
		})
		if err == nil {
			_ = emit(Event{Data: data})
		}
	}

	_ = emit(Event{Done: true})
}

// recordUsage writes the ledger entry. Errors during provider failure are
// zero-cost rows carrying whatever partial counts are known. Duplicate
// idempotency keys are silently dropped by the ledger.
func (p *Pipeline) recordUsage(ctx context.Context, req *Request, result *Result, model *models.Model, pricing models.Pricing, providerRequestID, stopReason string, ttftMs *int64, avgITL *float64, errorKind apierr.Kind) {
	cost := pricing.Cost(result.InputTokens, result.OutputTokens)

	entry := &models.UsageLogEntry{
		OrganizationID: req.Key.OrganizationID,
		WorkspaceID:    req.Key.WorkspaceID,
		APIKeyID:       req.Key.ID,
		ModelID:        model.ID,
		ModelName:      model.ModelName,
		InputTokens:    result.InputTokens,
		OutputTokens:   result.OutputTokens,
		TotalTokens:    result.InputTokens + result.OutputTokens,
		InputCost:      cost.InputCost,
		OutputCost:     cost.OutputCost,
		TotalCost:      cost.TotalCost,
		InferenceKind:  req.Kind,
		StopReason:     stopReason,
		TTFTMs:         ttftMs,
		AvgInterTokenMs: avgITL,
	}
	if result.Response != nil {
		id := result.Response.ID
		entry.ResponseID = &id
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		entry.InferenceID = &key
	}
	if providerRequestID != "" {
		entry.ProviderRequestID = &providerRequestID
	}

	inserted, err := p.ledger.Record(ctx, entry)
	if err != nil {
		p.logger.Error("usage recording failed",
			"organization", entry.OrganizationID, "api_key", entry.APIKeyID, "error", err)
		return
	}
	if !inserted {
		p.logger.Debug("duplicate usage entry dropped", "inference_id", req.IdempotencyKey)
		return
	}

	if p.postFlight != nil {
		archive := &logging.ArchiveRecord{
			Timestamp:      entry.CreatedAt,
			OrganizationID: entry.OrganizationID.String(),
			WorkspaceID:    entry.WorkspaceID.String(),
			APIKeyID:       entry.APIKeyID.String(),
			Model:          entry.ModelName,
			InferenceKind:  entry.InferenceKind,
			InputTokens:    entry.InputTokens,
			OutputTokens:   entry.OutputTokens,
			TotalCost:      entry.TotalCost,
			StopReason:     entry.StopReason,
			ErrorKind:      string(errorKind),
		}
		if entry.ResponseID != nil {
			archive.ResponseID = entry.ResponseID.String()
		}
		if ttftMs != nil {
			archive.TTFTMs = *ttftMs
		}
		p.postFlight(ctx, entry.APIKeyID, entry.CreatedAt, archive)
	}
}

func (p *Pipeline) bindAttestation(ctx context.Context, model *models.Model, backend providers.Backend, result *Result) {
	if p.binder == nil || !p.binder.Enabled() {
		return
	}
	if !model.Verifiable || result.ChatID == "" {
		return
	}
	if err := p.binder.Bind(ctx, backend, result.ChatID); err != nil {
		p.logger.Warn("attestation binding failed", "chat", result.ChatID, "error", err)
	}
}

// failBeforeStream surfaces a pre-dispatch error. For the response variant
// a failed row (and its in-conversation failed item) is still written so
// the error shows up in-thread.
func (p *Pipeline) failBeforeStream(ctx context.Context, req *Request, result *Result, emit EmitFunc, cause error) (*Result, error) {
	if !req.CreateResponseRow {
		return result, cause
	}

	resp, err := p.responses.Create(ctx, responses.CreateParams{
		WorkspaceID:        req.Key.WorkspaceID,
		APIKeyID:           req.Key.ID,
		Model:              req.Model,
		ConversationID:     req.ConversationID,
		PreviousResponseID: req.PreviousResponseID,
		InputItems:         req.InputItems,
		Metadata:           req.Metadata,
	})
	if err != nil {
		return result, cause
	}
	result.Response = resp

	return p.failStream(ctx, req, result, emit, cause, models.StopReasonProviderError)
}

// failStream fails the response row (when one exists) and emits exactly
// one response.failed event.
func (p *Pipeline) failStream(ctx context.Context, req *Request, result *Result, emit EmitFunc, cause error, stopReason string) (*Result, error) {
	if result.Response != nil {
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if resp, err := p.responses.Fail(finishCtx, result.Response.ID, 0, 0, apierr.Message(cause)); err == nil {
			result.Response = resp
		}
		p.emitTerminal(req, emit, result, "response.failed", cause)
	}
	return result, cause
}

// frameMsg is one pumped upstream event.
type frameMsg struct {
	data []byte
	err  error
	done bool
}

// pump moves the blocking StreamReader onto a channel so the relay loop
// can select against timers and cancellation. The goroutine exits when the
// stream ends or is closed.
func pump(stream *providers.StreamReader) <-chan frameMsg {
	out := make(chan frameMsg, 8)
	go func() {
		defer close(out)
		for {
			event, err := stream.Read()
			if event != nil && event.Done {
				out <- frameMsg{done: true}
				return
			}
			if err != nil {
				out <- frameMsg{err: err}
				return
			}
			out <- frameMsg{data: event.Data}
		}
	}()
	return out
}

func stopReasonFromFinish(finishReason string) string {
	switch finishReason {
	case "length", "max_tokens":
		return models.StopReasonLength
	case "content_filter":
		return models.StopReasonContentFilter
	default:
		return models.StopReasonCompleted
	}
}

// String renders an event in SSE wire format. Used by tests and the
// non-streaming assembler.
func (e Event) String() string {
	if e.Done {
		return "data: [DONE]\n\n"
	}
	if e.Name != "" {
		return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Name, e.Data)
	}
	return fmt.Sprintf("data: %s\n\n", e.Data)
}
