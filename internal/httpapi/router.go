package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"inference_gateway/internal/attestation"
	"inference_gateway/internal/auth"
	"inference_gateway/internal/billing"
	"inference_gateway/internal/catalog"
	"inference_gateway/internal/config"
	"inference_gateway/internal/logging"
	"inference_gateway/internal/middleware"
	"inference_gateway/internal/providers"
	"inference_gateway/internal/queue"
	"inference_gateway/internal/ratelimit"
	"inference_gateway/internal/responses"
	"inference_gateway/internal/storage"
	"inference_gateway/internal/streaming"
	"inference_gateway/internal/utils"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	DB        *storage.DB
	Redis     *redis.Client
	FrontDoor *auth.FrontDoor
	Catalog   *catalog.Catalog
	Pool      *providers.Pool
	Ledger    *billing.Ledger
	Limiter   *ratelimit.Limiter
	Responses *responses.Service
	Binder    *attestation.Binder
	Pipeline  *streaming.Pipeline
	Usage     *storage.UsageRepository

	PostFlight *billing.PostFlightWorker
	Archive    logging.ArchiveSink
	Logger     *logging.Logger

	stopDiscovery context.CancelFunc
}

// NewRouter creates an HTTP router with all dependencies wired up. The
// discovery loop and the post-flight worker start here; Shutdown stops
// them in the same order, discovery first.
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	db, err := storage.NewDB(storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		APIKeyCacheSize: cfg.Cache.APIKeyCacheSize,
		APIKeyCacheTTL:  cfg.Cache.APIKeyCacheTTL,
		ModelCacheSize:  cfg.Cache.ModelCacheSize,
		ModelCacheTTL:   cfg.Cache.ModelCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	apiKeyRepo := db.NewAPIKeyRepository()
	modelRepo := db.NewModelRepository()
	usageRepo := db.NewUsageRepository()
	responseRepo := db.NewResponseRepository()
	conversationRepo := db.NewConversationRepository()
	signatureRepo := db.NewSignatureRepository()
	sessionRepo := db.NewSessionRepository()
	orgRepo := db.NewOrganizationRepository()

	frontDoor := auth.NewFrontDoor(apiKeyRepo, sessionRepo, orgRepo, cfg.JWTSecret, cfg.Auth.AdminDomains)
	modelCatalog := catalog.New(modelRepo)
	ledger := billing.NewLedger(usageRepo, orgRepo)
	limiter := ratelimit.NewLimiter(cfg.RateLimit.TextPerMinute, cfg.RateLimit.ImagePerMinute)
	responseService := responses.NewService(responseRepo, conversationRepo)

	pool := providers.NewPool(providers.PoolConfig{
		DiscoveryURL:    cfg.Discovery.BaseURL,
		BearerToken:     cfg.Discovery.BearerToken,
		RefreshInterval: cfg.Discovery.RefreshInterval,
	})
	discoveryCtx, stopDiscovery := context.WithCancel(context.Background())
	go pool.Run(discoveryCtx)

	binder := attestation.NewBinder(pool, signatureRepo, cfg.Attestation.Enabled)

	// Archive sink: S3 when configured, discard otherwise.
	var archive logging.ArchiveSink = logging.NewNoopArchiveSink()
	if cfg.ArchiveSink.Enabled {
		archive, err = logging.NewS3ArchiveSink(context.Background(), logging.S3ArchiveSinkConfig{
			Bucket:        cfg.ArchiveSink.S3Bucket,
			Region:        cfg.ArchiveSink.S3Region,
			Prefix:        cfg.ArchiveSink.S3Prefix,
			PodName:       cfg.ArchiveSink.PodName,
			BufferSize:    cfg.ArchiveSink.BufferSize,
			FlushSize:     cfg.ArchiveSink.FlushSize,
			FlushInterval: cfg.ArchiveSink.FlushInterval,
		})
		if err != nil {
			stopDiscovery()
			return nil, nil, fmt.Errorf("failed to initialize archive sink: %w", err)
		}
	}

	// Post-flight work rides a Redis queue so stamps and archive rows
	// survive restarts; the memory queue is the dev fallback.
	var postFlightQueue queue.Queue
	if rq, qerr := queue.NewRedisQueue(redisClient, queue.DefaultConfig("postflight")); qerr == nil {
		postFlightQueue = rq
	} else {
		postFlightQueue = queue.NewMemoryQueue(queue.DefaultConfig("postflight"))
	}
	postFlight := billing.NewPostFlightWorker(postFlightQueue, apiKeyRepo, archive, nil)
	postFlight.Start(context.Background())

	pipeline := streaming.NewPipeline(
		streaming.Config{
			IdleTimeout:   cfg.Streaming.IdleTimeout,
			TotalDeadline: cfg.Streaming.TotalDeadline,
		},
		pool, modelCatalog, ledger, limiter, responseService, binder,
		func(ctx context.Context, apiKeyID uuid.UUID, usedAt time.Time, rec *logging.ArchiveRecord) {
			postFlight.Enqueue(ctx, &billing.PostFlightJob{
				APIKeyID: apiKeyID.String(),
				UsedAt:   usedAt,
				Archive:  rec,
			})
		},
	)

	deps := &Dependencies{
		DB:            db,
		Redis:         redisClient,
		FrontDoor:     frontDoor,
		Catalog:       modelCatalog,
		Pool:          pool,
		Ledger:        ledger,
		Limiter:       limiter,
		Responses:     responseService,
		Binder:        binder,
		Pipeline:      pipeline,
		Usage:         usageRepo,
		PostFlight:    postFlight,
		Archive:       archive,
		Logger:        logging.NewLogger("httpapi"),
		stopDiscovery: stopDiscovery,
	}

	mux := deps.routes()
	return mux, deps, nil
}

func (d *Dependencies) routes() *http.ServeMux {
	mux := http.NewServeMux()

	keyAuth := middleware.KeyAuth(d.FrontDoor)
	sessionAuth := middleware.SessionAuth(d.FrontDoor, false)
	adminAuth := middleware.SessionAuth(d.FrontDoor, true)

	key := func(h http.HandlerFunc) http.Handler { return keyAuth(h) }
	session := func(h http.HandlerFunc) http.Handler { return sessionAuth(h) }
	admin := func(h http.HandlerFunc) http.Handler { return adminAuth(h) }

	// Inference plane (Key principal).
	mux.Handle("POST /v1/chat/completions", key(d.handleChatCompletions))
	mux.Handle("POST /v1/completions", key(d.handleCompletions))
	mux.Handle("POST /v1/responses", key(d.handleCreateResponse))
	mux.Handle("GET /v1/responses/{id}", key(d.handleGetResponse))
	mux.Handle("POST /v1/responses/{id}/cancel", key(d.handleCancelResponse))
	mux.Handle("GET /v1/responses/{id}/input_items", key(d.handleResponseInputItems))

	mux.Handle("POST /v1/conversations", key(d.handleCreateConversation))
	mux.Handle("GET /v1/conversations", key(d.handleListConversations))
	mux.Handle("GET /v1/conversations/{id}", key(d.handleGetConversation))
	mux.Handle("POST /v1/conversations/{id}", key(d.handleUpdateConversation))
	mux.Handle("DELETE /v1/conversations/{id}", key(d.handleDeleteConversation))
	mux.Handle("POST /v1/conversations/{id}/clone", key(d.handleCloneConversation))
	mux.Handle("GET /v1/conversations/{id}/items", key(d.handleConversationItems))

	mux.Handle("GET /v1/models", key(d.handleListModels))
	mux.Handle("GET /v1/attestation/report", key(d.handleAttestationReport))
	mux.Handle("GET /v1/signature/{chat_id}", key(d.handleGetSignatures))
	mux.Handle("POST /v1/verify/{chat_id}", key(d.handleVerifySignature))

	// Management plane (Session principal).
	mux.Handle("GET /v1/organizations/{id}/usage", session(d.handleOrganizationUsage))
	mux.Handle("GET /v1/organizations/{id}/balance", session(d.handleOrganizationBalance))
	mux.Handle("POST /v1/organizations/{id}/balance/rebuild", admin(d.handleRebuildBalance))

	mux.HandleFunc("GET /health", d.handleHealth)

	return mux
}

// handleHealth reports process and database health.
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := d.DB.Health(ctx); err != nil {
		_ = utils.RespondWithJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded"})
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Shutdown stops background work: discovery first, then the post-flight
// worker, then the archive sink, finally the pools.
func (d *Dependencies) Shutdown(ctx context.Context) error {
	d.stopDiscovery()
	_ = d.PostFlight.Stop()
	_ = d.Archive.Shutdown(ctx)
	_ = d.Pool.Close()
	_ = d.Redis.Close()
	return d.DB.Close()
}
