package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inference_gateway/internal/models"
)

// Integration tests run against a real Postgres with the gateway schema
// loaded; set TEST_DATABASE_URL to enable them.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database integration test")
	}

	db, err := NewDB(DBConfig{
		URL:             url,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
		APIKeyCacheSize: 16,
		APIKeyCacheTTL:  time.Minute,
		ModelCacheSize:  16,
		ModelCacheTTL:   time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testEntry(orgID uuid.UUID, inferenceID *string, cost int64) *models.UsageLogEntry {
	return &models.UsageLogEntry{
		OrganizationID: orgID,
		WorkspaceID:    uuid.New(),
		APIKeyID:       uuid.New(),
		ModelID:        uuid.New(),
		ModelName:      "llama-3",
		InputTokens:    100,
		OutputTokens:   50,
		TotalTokens:    150,
		InputCost:      cost / 3,
		OutputCost:     cost - cost/3,
		TotalCost:      cost,
		InferenceKind:  models.InferenceKindChat,
		InferenceID:    inferenceID,
		StopReason:     models.StopReasonCompleted,
	}
}

func TestUsageRecordIdempotencyIntegration(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewUsageRepository()
	ctx := context.Background()

	orgID := uuid.New()
	inferenceID := "it-" + uuid.New().String()

	inserted, err := repo.Record(ctx, testEntry(orgID, &inferenceID, 150_000))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Record(ctx, testEntry(orgID, &inferenceID, 150_000))
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate (organization, inference_id) is dropped")

	balance, err := repo.GetBalance(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), balance.TotalSpent, "the balance is touched once")
	assert.Equal(t, int64(1), balance.TotalRequests)
}

func TestUsageRebuildBalanceIntegration(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewUsageRepository()
	ctx := context.Background()

	orgID := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := repo.Record(ctx, testEntry(orgID, nil, 100_000))
		require.NoError(t, err)
	}

	rebuilt, err := repo.RebuildBalance(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(300_000), rebuilt.TotalSpent, "balance = Σ log.total_cost")
	assert.Equal(t, int64(3), rebuilt.TotalRequests)
	assert.Equal(t, int64(450), rebuilt.TotalTokens)

	// The rebuilt aggregate matches the incrementally maintained one.
	balance, err := repo.GetBalance(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, rebuilt.TotalSpent, balance.TotalSpent)
}
