package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/toolforge-platform/toolforge/internal/admin"
	"github.com/toolforge-platform/toolforge/internal/api"
	"github.com/toolforge-platform/toolforge/internal/audit"
	"github.com/toolforge-platform/toolforge/internal/auth"
	"github.com/toolforge-platform/toolforge/internal/config"
	"github.com/toolforge-platform/toolforge/internal/database"
	"github.com/toolforge-platform/toolforge/internal/middleware"
	inats "github.com/toolforge-platform/toolforge/internal/nats"
	"github.com/toolforge-platform/toolforge/internal/quota"
	iredis "github.com/toolforge-platform/toolforge/internal/redis"
	"github.com/toolforge-platform/toolforge/internal/server"
	"github.com/toolforge-platform/toolforge/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.DB.MigrationsPath != "" {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			slog.Error("running migrations", "error", err)
			os.Exit(1)
		}
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS is optional; without it audit entries go straight to the
	// database.
	var natsClient *inats.Client
	var publisher *inats.Publisher
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = inats.NewPublisher(natsClient.JetStream())
	}

	// Audit
	auditRepo := audit.NewRepository(pool)
	var auditorPub audit.EventPublisher
	if publisher != nil {
		auditorPub = publisher
	}
	auditor := audit.NewAuditor(auditRepo, auditorPub)

	if natsClient != nil {
		consumer := audit.NewConsumer(auditRepo, inats.NewConsumerManager(natsClient.JetStream()))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("audit consumer stopped", "error", err)
			}
		}()
	}

	// Quota
	loc, err := time.LoadLocation(cfg.Quota.Timezone)
	if err != nil {
		slog.Error("loading quota timezone", "error", err, "timezone", cfg.Quota.Timezone)
		os.Exit(1)
	}
	ledger := quota.NewRepository(pool)
	limits := quota.NewLimitsRepository(pool)
	resolver := quota.NewResolver(limits, cfg.Quota.FallbackDailyLimit)
	gate := quota.NewGate(ledger, resolver, loc, quota.FailPolicy(cfg.Quota.FailPolicy), cfg.Quota.FallbackDailyLimit)
	quotaSvc := quota.NewService(gate, ledger, limits)
	quotaHandler := quota.NewHandler(quotaSvc)

	// Handlers
	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry)
	toolsHandler := tools.NewHandler(gate, auditor)
	adminHandler := admin.NewHandler(quotaSvc, auditRepo)

	// Per-IP burst limiter on the tool routes, in front of the
	// per-user daily quota.
	rateLimiter := middleware.NewRateLimiter(redisClient, "ratelimit:tools:", cfg.RateLimit.ToolsPerMinute, 60)

	// Router
	router := api.NewRouter(pool, redisClient, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		ToolsRateLimiter:   rateLimiter.Middleware,
	}, api.HandlerSet{
		GenerateAddress: toolsHandler.GenerateAddress,
		EmailToName:     toolsHandler.EmailToName,
		IPLookup:        toolsHandler.IPLookup,
		ZipLookup:       toolsHandler.ZipLookup,

		GetUsage:           quotaHandler.GetUsage,
		GetCapabilityUsage: quotaHandler.GetCapabilityUsage,

		SetUserOverride:   adminHandler.SetUserOverride,
		ClearUserOverride: adminHandler.ClearUserOverride,
		ListUserOverrides: adminHandler.ListUserOverrides,
		SetGlobalLimit:    adminHandler.SetGlobalLimit,
		ListGlobalLimits:  adminHandler.ListGlobalLimits,
		ResetUsage:        adminHandler.ResetUsage,
		ListUsage:         adminHandler.ListUsage,
		ListAuditLogs:     adminHandler.ListAuditLogs,

		AuthMiddleware:  auth.Middleware(jwtManager),
		AdminMiddleware: auth.RequireAdmin,
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
