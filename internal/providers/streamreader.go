package providers

import (
	"bufio"
	"bytes"
	"io"
)

// StreamEvent represents a single event in a streaming response
type StreamEvent struct {
	Data  []byte
	Error error
	Done  bool
}

// StreamReader reads Server-Sent Events off an upstream response body.
// Closing the reader closes the body, which tears down the upstream
// connection; this is the cancellation trigger the pipeline propagates.
type StreamReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewStreamReader creates a new stream reader
func NewStreamReader(r io.ReadCloser) *StreamReader {
	scanner := bufio.NewScanner(r)
	// Frames can carry whole message payloads; the default 64K line cap
	// is too small for image-bearing chunks.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &StreamReader{
		scanner: scanner,
		closer:  r,
	}
}

// Read reads the next data frame from the stream. The [DONE] marker and
// EOF both surface as a Done event with io.EOF.
func (s *StreamReader) Read() (*StreamEvent, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()

		if len(line) == 0 {
			continue
		}
		// Only data: lines carry frames; event names and comments are
		// transport detail.
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}

		data := bytes.TrimPrefix(line, []byte("data: "))
		if bytes.Equal(data, []byte("[DONE]")) {
			return &StreamEvent{Done: true}, io.EOF
		}

		// The scanner reuses its buffer between lines.
		out := make([]byte, len(data))
		copy(out, data)
		return &StreamEvent{Data: out}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return &StreamEvent{Error: err}, err
	}
	return &StreamEvent{Done: true}, io.EOF
}

// Close closes the stream
func (s *StreamReader) Close() error {
	return s.closer.Close()
}
