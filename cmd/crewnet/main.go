package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/crewnet-hq/crewnet/internal/app"
	"github.com/crewnet-hq/crewnet/internal/auth"
	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/observability"
	"github.com/crewnet-hq/crewnet/internal/platform/db"
	"github.com/crewnet-hq/crewnet/internal/posts"
	"github.com/crewnet-hq/crewnet/internal/profiles"
	"github.com/crewnet-hq/crewnet/internal/relationships"
	relhttp "github.com/crewnet-hq/crewnet/internal/relationships/http"
	"github.com/crewnet-hq/crewnet/internal/shared"
	"github.com/crewnet-hq/crewnet/internal/statuscache"
	"github.com/crewnet-hq/crewnet/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "crewnet_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	identityRepo := identity.NewRepository(dbpool)
	identityService := identity.NewService(identityRepo)
	identityHandler := identity.NewHandler(logger, identityService)
	identityMiddleware := identity.Middleware{Service: identityService, Logger: logger}

	relationshipsRepo := relationships.NewRepository(dbpool)
	relationshipsService := relationships.NewService(relationshipsRepo, auditLogger)
	resolver := relationships.NewResolver(relationshipsRepo)
	statusCache := statuscache.NewCache(resolver, redisClient, cfg.StatusCacheTTL, logger)
	relationshipsHandler := relhttp.NewHandler(logger, relationshipsService, statusCache, idempotencyStore)

	profilesRepo := profiles.NewRepository(dbpool)
	profilesService := profiles.NewService(profilesRepo, auditLogger)
	profilesHandler := profiles.NewHandler(logger, profilesService)

	postsRepo := posts.NewRepository(dbpool)
	postsService := posts.NewService(postsRepo, auditLogger)
	postsHandler := posts.NewHandler(logger, postsService)

	metrics := observability.NewMetrics()
	statusCache.SetMetrics(metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		SessionManager:       sessionManager,
		CSRFManager:          csrfManager,
		IdentityMiddleware:   identityMiddleware,
		AuthHandler:          authHandler,
		IdentityHandler:      identityHandler,
		ProfilesHandler:      profilesHandler,
		PostsHandler:         postsHandler,
		RelationshipsHandler: relationshipsHandler,
		JobHandler:           jobHandler,
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
