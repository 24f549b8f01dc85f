package httpapi

import (
	"fmt"
	"net/http"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/streaming"
)

// sseWriter adapts an http.ResponseWriter into the pipeline's EmitFunc.
// Headers go out on the first event; a write failure reports the client as
// gone.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, apierr.New(apierr.KindInternal, "streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// Emit writes one event in SSE wire format and flushes it.
func (s *sseWriter) Emit(event streaming.Event) error {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	if _, err := fmt.Fprint(s.w, event.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Started reports whether any bytes reached the client.
func (s *sseWriter) Started() bool { return s.started }
