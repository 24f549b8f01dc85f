package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inference_gateway/internal/models"
)

// fakeBackend satisfies Backend without any network.
type fakeBackend struct {
	id       string
	endpoint string
	kind     string
}

func (f *fakeBackend) ID() string      { return f.id }
func (f *fakeBackend) BaseURL() string { return f.endpoint }
func (f *fakeBackend) Kind() string    { return f.kind }
func (f *fakeBackend) Submit(ctx context.Context, req *InferenceRequest) (*Submission, error) {
	return nil, nil
}
func (f *fakeBackend) HealthProbe(ctx context.Context) error { return nil }
func (f *fakeBackend) AttestationReport(ctx context.Context, signingAlgo string) ([]byte, error) {
	return nil, ErrNotVerifiable
}
func (f *fakeBackend) Signature(ctx context.Context, chatID, signingAlgo string) (*models.ChatSignature, error) {
	return nil, ErrNotVerifiable
}
func (f *fakeBackend) Close() error { return nil }

func discoveryServer(t *testing.T, entries *[]discoveryEntry) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		_ = json.NewEncoder(w).Encode(*entries)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestPool(t *testing.T, entries *[]discoveryEntry) *Pool {
	t.Helper()
	server := discoveryServer(t, entries)
	pool := NewPool(PoolConfig{
		DiscoveryURL:    server.URL,
		RefreshInterval: time.Minute,
		Factory: func(id, endpoint, kind string) Backend {
			return &fakeBackend{id: id, endpoint: endpoint, kind: kind}
		},
	})
	require.NoError(t, pool.Refresh(context.Background()))
	return pool
}

func TestPoolRoundRobinPerModel(t *testing.T) {
	entries := []discoveryEntry{
		{ModelID: "llama-3", Endpoints: []string{"http://b1", "http://b2"}},
		{ModelID: "qwen-2", Endpoints: []string{"http://b1"}},
	}
	pool := newTestPool(t, &entries)

	first, err := pool.Select("llama-3", "")
	require.NoError(t, err)
	second, err := pool.Select("llama-3", "")
	require.NoError(t, err)
	third, err := pool.Select("llama-3", "")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, first.ID(), third.ID(), "round-robin wraps around")

	// Round-robin is per model: qwen's cursor is independent.
	only, err := pool.Select("qwen-2", "")
	require.NoError(t, err)
	assert.Equal(t, backendID("http://b1"), only.ID())
}

func TestPoolUnknownModel(t *testing.T) {
	entries := []discoveryEntry{{ModelID: "llama-3", Endpoints: []string{"http://b1"}}}
	pool := newTestPool(t, &entries)

	_, err := pool.Select("missing-model", "")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestPoolStickyAffinity(t *testing.T) {
	entries := []discoveryEntry{
		{ModelID: "llama-3", Endpoints: []string{"http://b1", "http://b2", "http://b3"}},
	}
	pool := newTestPool(t, &entries)

	first, err := pool.Select("llama-3", "conv-1")
	require.NoError(t, err)

	// Every further select for the same conversation lands on the same
	// backend even while the cursor moves for others.
	for i := 0; i < 5; i++ {
		_, _ = pool.Select("llama-3", "")
		again, err := pool.Select("llama-3", "conv-1")
		require.NoError(t, err)
		assert.Equal(t, first.ID(), again.ID())
	}
}

func TestPoolFailureCooldownAndRecovery(t *testing.T) {
	entries := []discoveryEntry{
		{ModelID: "llama-3", Endpoints: []string{"http://b1", "http://b2"}},
	}
	pool := newTestPool(t, &entries)
	pool.cfg.RefreshInterval = 50 * time.Millisecond

	bad, err := pool.Select("llama-3", "")
	require.NoError(t, err)
	pool.ReportFailure(bad.ID())

	// While on cooldown only the healthy backend is returned.
	for i := 0; i < 4; i++ {
		b, err := pool.Select("llama-3", "")
		require.NoError(t, err)
		assert.NotEqual(t, bad.ID(), b.ID())
	}

	// After the cooldown the backend is eligible again.
	time.Sleep(80 * time.Millisecond)
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		b, err := pool.Select("llama-3", "")
		require.NoError(t, err)
		seen[b.ID()] = true
	}
	assert.True(t, seen[bad.ID()], "backend rejoins rotation after cooldown")
}

func TestPoolAllUnhealthy(t *testing.T) {
	entries := []discoveryEntry{{ModelID: "llama-3", Endpoints: []string{"http://b1"}}}
	pool := newTestPool(t, &entries)

	b, err := pool.Select("llama-3", "")
	require.NoError(t, err)
	pool.ReportFailure(b.ID())

	_, err = pool.Select("llama-3", "")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestPoolRefreshRemovesBackendsAndEvictsSticky(t *testing.T) {
	entries := []discoveryEntry{
		{ModelID: "llama-3", Endpoints: []string{"http://b1", "http://b2"}},
	}
	pool := newTestPool(t, &entries)

	sticky, err := pool.Select("llama-3", "conv-1")
	require.NoError(t, err)

	// The sticky backend leaves the topology.
	var kept string
	if sticky.BaseURL() == "http://b1" {
		kept = "http://b2"
	} else {
		kept = "http://b1"
	}
	entries = []discoveryEntry{{ModelID: "llama-3", Endpoints: []string{kept}}}
	require.NoError(t, pool.Refresh(context.Background()))

	after, err := pool.Select("llama-3", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, backendID(kept), after.ID())

	_, found := pool.Backend(sticky.ID())
	assert.False(t, found, "removed backend must leave the snapshot")
}

func TestPoolRefreshKeepsBackendInstances(t *testing.T) {
	entries := []discoveryEntry{{ModelID: "llama-3", Endpoints: []string{"http://b1"}}}
	pool := newTestPool(t, &entries)

	before, _ := pool.Backend(backendID("http://b1"))
	require.NoError(t, pool.Refresh(context.Background()))
	after, _ := pool.Backend(backendID("http://b1"))

	assert.Same(t, before, after, "refresh must not rebuild surviving backends")
}

func TestPoolExternalKind(t *testing.T) {
	entries := []discoveryEntry{
		{ModelID: "gpt-4o", Endpoints: []string{"http://ext"}, Kind: models.ProviderKindExternal},
	}
	pool := newTestPool(t, &entries)

	b, err := pool.Select("gpt-4o", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderKindExternal, b.Kind())
	assert.Empty(t, pool.InternalBackends())
}
