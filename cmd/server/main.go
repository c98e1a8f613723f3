package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"zyphon/internal/api"
	"zyphon/internal/api/handlers"
	"zyphon/internal/api/middleware"
	"zyphon/internal/engine/generation"
	"zyphon/internal/engine/keys"
	"zyphon/internal/engine/ratelimit"
	"zyphon/internal/pkg/logger"
	"zyphon/internal/platform/audit"
	"zyphon/internal/platform/auth"
	"zyphon/internal/platform/config"
	"zyphon/internal/platform/database"
	"zyphon/internal/platform/repositories"
	"zyphon/internal/platform/storage"
	"zyphon/internal/platform/tasks"
)

func main() {
	configPath := flag.String("config", os.Getenv("ZYPHON_CONFIG"), "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret must be set (JWT_SECRET)")
	}

	ctx := context.Background()

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to open database")
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Background side effects: audit writes and last-used updates
	queue := tasks.NewQueue(cfg.Tasks.QueueSize, cfg.Tasks.Workers, cfg.Tasks.TaskTimeout, logger.Component("tasks"))

	// Repositories
	keyRepo := repositories.NewAPIKeyRepository(db)
	userRepo := repositories.NewUserRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Services
	recorder := audit.NewLogger(auditRepo, queue, log.Logger)
	keySvc := keys.NewService(keyRepo, queue, recorder, log.Logger)
	tokenSvc := auth.NewTokenService(cfg.JWT)

	checks := map[string]handlers.Pinger{"database": db}

	// Rate limit counters
	var store ratelimit.Store
	switch cfg.RateLimit.Store {
	case "redis":
		client, err := ratelimit.NewRedisClient(ctx, cfg.RateLimit.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to rate limit redis")
		}
		defer client.Close()
		store = ratelimit.NewRedisStore(client, cfg.RateLimit.Redis.Prefix)
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	default:
		mem := ratelimit.NewMemoryStore()
		mem.StartCleanup(cfg.RateLimit.CleanupInterval)
		defer mem.Close()
		store = mem
	}
	limiter := ratelimit.NewLimiter(store, cfg.RateLimit, log.Logger)

	// Upstreams
	genClient := generation.NewClient(cfg.Generation, log.Logger)
	pdfRenderer := generation.NewPDFRenderer(cfg.PDF, cfg.Generation.Breaker, log.Logger)

	uploader, err := storage.NewS3Uploader(cfg.Storage, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure object storage")
	}

	// Router
	deps := &api.Dependencies{
		AuthHandler:       handlers.NewAuthHandler(userRepo, tokenSvc, cfg.JWT.AccessTokenTTL, log.Logger),
		APIKeyHandler:     handlers.NewAPIKeyHandler(keySvc),
		AuditHandler:      handlers.NewAuditHandler(auditRepo),
		GatewayHandler:    handlers.NewGatewayHandler(genClient, pdfRenderer, uploader, recorder, cfg.PDF.MaxHTMLBytes, log.Logger),
		HealthHandler:     handlers.NewHealthHandler(checks),
		MetricsHandler:    handlers.NewMetricsHandler(),
		AuthMiddleware:    middleware.NewAuthMiddleware(tokenSvc),
		APIKeyAuth:        middleware.NewAPIKeyMiddleware(keySvc, log.Logger),
		RateLimiter:       middleware.NewRateLimiter(limiter, log.Logger),
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	}
	router := api.NewRouter(deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("rate_limit_store", cfg.RateLimit.Store).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
		}
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	// flush queued audit events before the database closes
	queue.Close()
	log.Info().Msg("server stopped")
}

func shutdownTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}
