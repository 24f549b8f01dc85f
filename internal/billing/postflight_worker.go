package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"inference_gateway/internal/logging"
	"inference_gateway/internal/queue"
	"inference_gateway/internal/storage"
)

// PostFlightJob is the best-effort work that must not sit on the billing
// hot path: the api-key last-used stamp and the usage archive export.
// Jobs survive restarts when the queue backend is Redis.
type PostFlightJob struct {
	APIKeyID string                 `json:"api_key_id"`
	UsedAt   time.Time              `json:"used_at"`
	Archive  *logging.ArchiveRecord `json:"archive,omitempty"`
}

// PostFlightWorker drains the post-flight queue in batches.
type PostFlightWorker struct {
	queue   queue.Queue
	keys    *storage.APIKeyRepository
	archive logging.ArchiveSink
	config  *queue.Config
	logger  *logging.Logger

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewPostFlightWorker creates a new post-flight worker
func NewPostFlightWorker(q queue.Queue, keys *storage.APIKeyRepository, archive logging.ArchiveSink, config *queue.Config) *PostFlightWorker {
	if config == nil {
		config = queue.DefaultConfig("postflight")
	}
	if archive == nil {
		archive = logging.NewNoopArchiveSink()
	}

	return &PostFlightWorker{
		queue:       q,
		keys:        keys,
		archive:     archive,
		config:      config,
		logger:      logging.NewLogger("postflight-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Enqueue submits a job. Best effort: a full queue only costs a stamp and
// an archive row, never a billing record.
func (w *PostFlightWorker) Enqueue(ctx context.Context, job *PostFlightJob) {
	if err := w.queue.Enqueue(ctx, job); err != nil {
		w.logger.Warn("post-flight enqueue failed", "api_key", job.APIKeyID, "error", err)
	}
}

// Start starts the worker goroutine
func (w *PostFlightWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *PostFlightWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

func (w *PostFlightWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
		if err != nil {
			if err == queue.ErrQueueClosed || ctx.Err() != nil {
				return
			}
			w.logger.Error("post-flight dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, item := range items {
			job, ok := decodeJob(item)
			if !ok {
				w.logger.Warn("discarding malformed post-flight item")
				continue
			}
			w.process(ctx, job)
		}
	}
}

func (w *PostFlightWorker) process(ctx context.Context, job *PostFlightJob) {
	if id, err := uuid.Parse(job.APIKeyID); err == nil {
		if err := w.keys.StampLastUsed(ctx, id, job.UsedAt); err != nil {
			w.logger.Warn("last-used stamp failed", "api_key", job.APIKeyID, "error", err)
		}
	}

	if job.Archive != nil {
		if err := w.archive.Enqueue(job.Archive); err != nil {
			w.logger.Warn("archive enqueue failed", "api_key", job.APIKeyID, "error", err)
		}
	}
}

// decodeJob accepts both in-process items (memory queue hands the pointer
// back) and JSON round-tripped items (redis queue).
func decodeJob(item any) (*PostFlightJob, bool) {
	switch v := item.(type) {
	case *PostFlightJob:
		return v, true
	case json.RawMessage:
		var job PostFlightJob
		if err := json.Unmarshal(v, &job); err != nil {
			return nil, false
		}
		return &job, true
	case []byte:
		var job PostFlightJob
		if err := json.Unmarshal(v, &job); err != nil {
			return nil, false
		}
		return &job, true
	case string:
		var job PostFlightJob
		if err := json.Unmarshal([]byte(v), &job); err != nil {
			return nil, false
		}
		return &job, true
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var job PostFlightJob
		if err := json.Unmarshal(raw, &job); err != nil {
			return nil, false
		}
		return &job, true
	}
	return nil, false
}
