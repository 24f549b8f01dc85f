package providers

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseBody(lines ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

func TestStreamReaderReadsDataFrames(t *testing.T) {
	reader := NewStreamReader(sseBody(
		`data: {"id":"chatcmpl-1"}`,
		"",
		`data: {"id":"chatcmpl-2"}`,
		"",
		"data: [DONE]",
		"",
	))
	defer reader.Close()

	event, err := reader.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"chatcmpl-1"}`, string(event.Data))

	event, err = reader.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"chatcmpl-2"}`, string(event.Data))

	event, err = reader.Read()
	assert.Equal(t, io.EOF, err)
	assert.True(t, event.Done)
}

func TestStreamReaderSkipsNonDataLines(t *testing.T) {
	reader := NewStreamReader(sseBody(
		"event: response.created",
		`data: {"seq":1}`,
		": keep-alive comment",
		"",
		"data: [DONE]",
	))
	defer reader.Close()

	event, err := reader.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":1}`, string(event.Data))

	event, err = reader.Read()
	assert.Equal(t, io.EOF, err)
	assert.True(t, event.Done)
}

func TestStreamReaderEOFWithoutDone(t *testing.T) {
	reader := NewStreamReader(sseBody(`data: {"seq":1}`))
	defer reader.Close()

	_, err := reader.Read()
	require.NoError(t, err)

	event, err := reader.Read()
	assert.Equal(t, io.EOF, err)
	assert.True(t, event.Done)
}
