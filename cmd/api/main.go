package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/maistro-platform/maistro/internal/api"
	"github.com/maistro-platform/maistro/internal/capability/anthropic"
	"github.com/maistro-platform/maistro/internal/config"
	"github.com/maistro-platform/maistro/internal/database"
	"github.com/maistro-platform/maistro/internal/memory"
	"github.com/maistro-platform/maistro/internal/middleware"
	inats "github.com/maistro-platform/maistro/internal/nats"
	"github.com/maistro-platform/maistro/internal/nslock"
	"github.com/maistro-platform/maistro/internal/orchestrator"
	iredis "github.com/maistro-platform/maistro/internal/redis"
	"github.com/maistro-platform/maistro/internal/server"
	"github.com/maistro-platform/maistro/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (optional)
	var natsClient *inats.Client
	var publisher *inats.Publisher
	if cfg.NATS.Enabled {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = inats.NewPublisher(natsClient.JetStream())

		stopAudit, err := inats.StartAuditLog(ctx, inats.NewConsumerManager(natsClient.JetStream()))
		if err != nil {
			slog.Error("starting audit consumer", "error", err)
			os.Exit(1)
		}
		defer stopAudit()
	}

	// Memory store and orchestration
	store := memory.NewPostgresStore(pool)
	locks := nslock.NewRedisLocker(redisClient, cfg.Memory.LockTTL, cfg.Memory.LockRetry)

	client := anthropic.NewClient(cfg.Anthropic.APIKey)
	model := anthropic.NewModel(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
	extractor := anthropic.NewExtractor(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)

	orch := orchestrator.New(store, locks, model, extractor,
		orchestrator.WithMaxDispatches(cfg.Memory.MaxDispatches),
		orchestrator.WithPublisher(publisher),
	)

	sessions := session.NewStore(redisClient)
	turnHandler := orchestrator.NewHandler(orch, sessions, cfg.Memory.MaxSessionMessages, cfg.Memory.SessionTTL)
	memoryHandler := memory.NewHandler(store)

	rateLimiter := middleware.NewRateLimiter(redisClient, cfg.RateLimit.MaxReqs, cfg.RateLimit.WindowSec)

	// Router
	router := api.NewRouter(pool, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		TurnRateLimiter:    rateLimiter.Middleware,
	}, api.HandlerSet{
		Turn:         turnHandler.Turn,
		ClearSession: turnHandler.ClearSession,

		GetProfile:      memoryHandler.GetProfile,
		ListTodos:       memoryHandler.ListTodos,
		GetInstructions: memoryHandler.GetInstructions,
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
