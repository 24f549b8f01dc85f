package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveRecord is one exported usage row. Only ids, sizes, counts,
// durations and error kinds appear here; prompts, completions and secrets
// never do.
type ArchiveRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	OrganizationID string    `json:"organization_id"`
	WorkspaceID    string    `json:"workspace_id"`
	APIKeyID       string    `json:"api_key_id"`
	ResponseID     string    `json:"response_id,omitempty"`
	Model          string    `json:"model"`
	InferenceKind  string    `json:"inference_kind"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	TotalCost      int64     `json:"total_cost"`
	StopReason     string    `json:"stop_reason"`
	TTFTMs         int64     `json:"ttft_ms,omitempty"`
	GatewayMs      int64     `json:"gateway_ms"`
	ErrorKind      string    `json:"error_kind,omitempty"`
}

// ArchiveSink receives usage archive records.
type ArchiveSink interface {
	Enqueue(rec *ArchiveRecord) error
	Shutdown(ctx context.Context) error
}

// NoopArchiveSink discards archive records. Used when the sink is disabled.
type NoopArchiveSink struct{}

func NewNoopArchiveSink() *NoopArchiveSink { return &NoopArchiveSink{} }

func (s *NoopArchiveSink) Enqueue(rec *ArchiveRecord) error   { return nil }
func (s *NoopArchiveSink) Shutdown(ctx context.Context) error { return nil }

// S3ArchiveSink buffers archive records in memory and flushes them to S3 as
// JSON Lines objects. On each flush-interval tick the buffer is written if it
// holds at least FlushSize records; a smaller remainder is not written on a
// tick and stays buffered until a later tick or Shutdown, which writes
// whatever is left. Enqueue itself never triggers a write.
type S3ArchiveSink struct {
	client  *s3.Client
	bucket  string
	prefix  string
	podName string
	logger  *Logger

	mu     sync.Mutex
	buffer []*ArchiveRecord

	flushSize     int
	flushInterval time.Duration
	maxBuffer     int

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// S3ArchiveSinkConfig holds sink construction parameters.
type S3ArchiveSinkConfig struct {
	Bucket        string
	Region        string
	Prefix        string
	PodName       string
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
}

// NewS3ArchiveSink creates the sink and starts its flush loop.
func NewS3ArchiveSink(ctx context.Context, cfg S3ArchiveSinkConfig) (*S3ArchiveSink, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}

	s := &S3ArchiveSink{
		client:        s3.NewFromConfig(awsCfg),
		bucket:        cfg.Bucket,
		prefix:        cfg.Prefix,
		podName:       cfg.PodName,
		logger:        NewLogger("archive-sink"),
		flushSize:     cfg.FlushSize,
		flushInterval: cfg.FlushInterval,
		maxBuffer:     cfg.BufferSize,
		stopChan:      make(chan struct{}),
		stoppedChan:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Enqueue buffers one record. A full buffer drops the record rather than
// blocking the caller; billing already committed, the archive is an export.
func (s *S3ArchiveSink) Enqueue(rec *ArchiveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) >= s.maxBuffer {
		return fmt.Errorf("archive buffer full, record dropped")
	}
	s.buffer = append(s.buffer, rec)
	return nil
}

func (s *S3ArchiveSink) run() {
	defer close(s.stoppedChan)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.flushIfReady(false)
		}
	}
}

func (s *S3ArchiveSink) flushIfReady(force bool) {
	s.mu.Lock()
	if len(s.buffer) == 0 || (!force && len(s.buffer) < s.flushSize) {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.writeBatch(ctx, batch); err != nil {
		s.logger.Error("archive flush failed", "count", len(batch), "error", err)
	}
}

func (s *S3ArchiveSink) writeBatch(ctx context.Context, batch []*ArchiveRecord) error {
	now := time.Now().UTC()
	key := fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		s.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		s.podName,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, rec := range batch {
		if err := encoder.Encode(rec); err != nil {
			s.logger.Error("failed to encode archive record", "error", err)
			continue
		}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive batch: %w", err)
	}

	s.logger.Info("wrote archive batch", "key", key, "count", len(batch), "bytes", buf.Len())
	return nil
}

// Shutdown stops the flush loop and writes the remaining buffer.
func (s *S3ArchiveSink) Shutdown(ctx context.Context) error {
	close(s.stopChan)
	<-s.stoppedChan
	s.flushIfReady(true)
	return nil
}
