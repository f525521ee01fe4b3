package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"partner-webhooks/config"
	httpHandler "partner-webhooks/internal/adapter/http/handler"
	"partner-webhooks/internal/adapter/http/middleware"
	memStorage "partner-webhooks/internal/adapter/storage/memory"
	pgStorage "partner-webhooks/internal/adapter/storage/postgres"
	redisStorage "partner-webhooks/internal/adapter/storage/redis"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/internal/metrics"
	"partner-webhooks/internal/service"
	"partner-webhooks/internal/worker"
	"partner-webhooks/pkg/logger"
	"partner-webhooks/pkg/ssrf"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 15 * time.Second

	auditWorkers   = 2
	auditQueueSize = 256
)

// repositories groups the storage ports selected by database.driver.
type repositories struct {
	partners   ports.PartnerRepository
	subs       ports.SubscriptionRepository
	deliveries ports.DeliveryLogRepository
	audit      ports.AuditRepository
	checkers   []ports.HealthChecker
	close      func()
}

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("environment", cfg.Server.Environment).
		Str("database", cfg.Database.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting Partner Webhooks")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		metrics.RegisterDefault()
	}

	repos, err := openRepositories(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer repos.close()

	// Redis backs rate limiting, event dedupe and the optional event stream.
	var (
		rdb         *goredis.Client
		rateLimiter ports.RateLimiter
		deduper     ports.EventDeduper
	)
	if !cfg.Redis.Enabled {
		rateLimiter = memStorage.NewRateLimiter()
		deduper = memStorage.NewEventDeduper()
	} else {
		rdb, err = redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("Redis connected")

		rateLimiter = redisStorage.NewRateLimitStore(rdb)
		deduper = redisStorage.NewEventDeduper(rdb)
		repos.checkers = append(repos.checkers, redisStorage.NewHealthCheck(rdb))
	}

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	secrets := service.NewSecretGenerator(hashSvc)

	// SSRF guard: production requires https, and resolve-then-check when enabled.
	guardOpts := []ssrf.Option{ssrf.RequireHTTPS(cfg.Server.IsProduction())}
	if cfg.Webhooks.ResolveDNS || cfg.Server.IsProduction() {
		guardOpts = append(guardOpts, ssrf.WithResolver(net.DefaultResolver))
	}
	guard := ssrf.New(guardOpts...)

	// Background work: deliveries share one pool, audit writes get their own
	// so a backlog of deliveries never delays them.
	pool := worker.New(
		worker.Config{Workers: cfg.Webhooks.Workers, QueueSize: cfg.Webhooks.QueueSize},
		log,
		func(string, error) { metrics.DispatchTasksFailed.Inc() },
	)
	pool.Start()
	auditPool := worker.New(worker.Config{Workers: auditWorkers, QueueSize: auditQueueSize}, log, nil)
	auditPool.Start()

	dispatcher := service.NewDispatcher(
		repos.subs,
		repos.deliveries,
		encSvc,
		sigSvc,
		guard.HTTPClient(cfg.Webhooks.Timeout),
		pool,
		deduper,
		service.DispatcherConfig{
			Timeout: cfg.Webhooks.Timeout,
			Retry: service.RetryPolicy{
				MaxAttempts: cfg.Webhooks.MaxAttempts,
				BaseDelay:   cfg.Webhooks.RetryBaseDelay,
				MaxDelay:    cfg.Webhooks.RetryMaxDelay,
				Multiplier:  2,
			},
			Fanout:               cfg.Webhooks.Fanout,
			DisableAfterFailures: cfg.Webhooks.DisableAfterFailures,
			UserAgent:            cfg.Webhooks.UserAgent,
			DedupeTTL:            cfg.Events.DedupeTTL,
		},
		log,
	)

	partnerSvc := service.NewPartnerService(repos.partners, secrets, hashSvc, tokenSvc)
	webhookSvc := service.NewWebhookService(
		repos.subs,
		repos.deliveries,
		encSvc,
		secrets,
		guard,
		service.WebhookServiceConfig{
			MaxHeaders:       cfg.Webhooks.MaxHeaders,
			RecentDeliveries: cfg.Webhooks.RecentDeliveries,
		},
		log,
	)
	auditSvc := service.NewAuditService(repos.audit, auditPool, log)

	// Events go straight to the dispatcher unless the Redis stream is enabled,
	// in which case ingestion appends to the stream and a consumer dispatches.
	var (
		publisher ports.EventPublisher
		stream    *redisStorage.EventStream
	)
	publisher = dispatcher
	if cfg.Events.StreamEnabled {
		stream = redisStorage.NewEventStream(rdb, redisStorage.EventStreamConfig{
			Stream:    cfg.Events.Stream,
			Group:     cfg.Events.Group,
			Consumer:  cfg.Events.Consumer,
			BatchSize: cfg.Events.BatchSize,
			Block:     cfg.Events.Block,
		}, log)
		publisher = stream
	}

	var limiter ports.RateLimiter
	rules := map[string]middleware.RateLimitRule{}
	if cfg.RateLimit.Enabled {
		limiter = rateLimiter
		rules[middleware.RuleWebhookMutations] = middleware.RateLimitRule{
			Name: middleware.RuleWebhookMutations, Limit: cfg.RateLimit.WebhookMutations, Window: cfg.RateLimit.WebhookWindow,
		}
		rules[middleware.RuleToken] = middleware.RateLimitRule{
			Name: middleware.RuleToken, Limit: cfg.RateLimit.TokenRequests, Window: cfg.RateLimit.TokenWindow,
		}
		rules[middleware.RuleAdmin] = middleware.RateLimitRule{
			Name: middleware.RuleAdmin, Limit: cfg.RateLimit.AdminRequests, Window: cfg.RateLimit.AdminWindow,
		}
	}

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI document loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI document not found, Swagger UI will be unavailable")
	}

	if cfg.Auth.AdminToken == "" {
		log.Warn().Msg("auth.admin_token is empty, admin routes are disabled")
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PartnerSvc:         partnerSvc,
		WebhookSvc:         webhookSvc,
		Publisher:          publisher,
		TokenSvc:           tokenSvc,
		RateLimiter:        limiter,
		Rules:              rules,
		HealthCheckers:     repos.checkers,
		AuditSvc:           auditSvc,
		AdminToken:         cfg.Auth.AdminToken,
		ExposeErrorDetails: !cfg.Server.IsProduction(),
		MetricsEnabled:     cfg.Metrics.Enabled,
		Logger:             log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if stream != nil {
		g.Go(func() error {
			return stream.Run(gctx, dispatcher)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}

	// Drain queued deliveries and audit writes.
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := pool.Stop(drainCtx); err != nil {
		log.Warn().Err(err).Int("queued", pool.QueueLen()).Msg("Worker pool stopped before draining")
	}
	if err := auditPool.Stop(drainCtx); err != nil {
		log.Warn().Err(err).Int("queued", auditPool.QueueLen()).Msg("Audit pool stopped before draining")
	}

	log.Info().Msg("Server exited")
}

// openRepositories selects the storage driver.
func openRepositories(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*repositories, error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return &repositories{
			partners:   memStorage.NewPartnerRepo(),
			subs:       memStorage.NewSubscriptionRepo(),
			deliveries: memStorage.NewDeliveryLogRepo(),
			audit:      memStorage.NewAuditRepo(),
			close:      func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info().Msg("PostgreSQL connected")

	return &repositories{
		partners:   pgStorage.NewPartnerRepo(pool),
		subs:       pgStorage.NewSubscriptionRepo(pool, log),
		deliveries: pgStorage.NewDeliveryLogRepo(pool),
		audit:      pgStorage.NewAuditRepo(pool),
		checkers:   []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
		close:      pool.Close,
	}, nil
}
