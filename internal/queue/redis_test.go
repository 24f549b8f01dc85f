package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := NewRedisQueue(client, DefaultConfig("test"))
	require.NoError(t, err)
	return q
}

func TestRedisQueueRoundTrip(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	type job struct {
		APIKeyID string `json:"api_key_id"`
	}

	require.NoError(t, q.Enqueue(ctx, &job{APIKeyID: "key-1"}))
	require.NoError(t, q.Enqueue(ctx, &job{APIKeyID: "key-2"}))

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length)

	items, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Redis round-trips items as raw JSON.
	var first job
	raw, ok := items[0].(json.RawMessage)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(raw, &first))
	assert.Equal(t, "key-1", first.APIKeyID)
}

func TestRedisQueueTimeoutEmpty(t *testing.T) {
	q := newTestRedisQueue(t)

	items, err := q.DequeueWithTimeout(context.Background(), 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRedisQueueBatchLimit(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, i))
	}

	items, err := q.DequeueWithTimeout(ctx, 3, time.Second)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length)
}
