package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/toolforge-platform/toolforge/internal/database"
	mw "github.com/toolforge-platform/toolforge/internal/middleware"
	inats "github.com/toolforge-platform/toolforge/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Metered tool handlers
	GenerateAddress http.HandlerFunc
	EmailToName     http.HandlerFunc
	IPLookup        http.HandlerFunc
	ZipLookup       http.HandlerFunc

	// Usage status handlers
	GetUsage           http.HandlerFunc
	GetCapabilityUsage http.HandlerFunc

	// Admin handlers
	SetUserOverride   http.HandlerFunc
	ClearUserOverride http.HandlerFunc
	ListUserOverrides http.HandlerFunc
	SetGlobalLimit    http.HandlerFunc
	ListGlobalLimits  http.HandlerFunc
	ResetUsage        http.HandlerFunc
	ListUsage         http.HandlerFunc
	ListAuditLogs     http.HandlerFunc

	// Auth middleware
	AuthMiddleware  func(http.Handler) http.Handler
	AdminMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	ToolsRateLimiter   func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, redisClient *redis.Client, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe — always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe — checks DB, Redis, NATS
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"redis":    "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				health["redis"] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
		} else {
			health["redis"] = "not configured"
		}

		if natsClient != nil && !natsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else if natsClient == nil {
			health["nats"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// All product routes require a valid access token; the quota
		// gate itself handles per-user metering past that point.
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			// Metered tool routes — optionally rate-limited per client IP
			r.Route("/tools", func(r chi.Router) {
				if cfg.ToolsRateLimiter != nil {
					r.Use(cfg.ToolsRateLimiter)
				}
				r.Post("/address", h.GenerateAddress)
				r.Post("/email-to-name", h.EmailToName)
				r.Post("/ip-lookup", h.IPLookup)
				r.Post("/zip-lookup", h.ZipLookup)
			})

			// Usage status routes backing the usage bars
			r.Route("/usage", func(r chi.Router) {
				r.Get("/", h.GetUsage)
				r.Get("/{capability}", h.GetCapabilityUsage)
			})

			// Admin control surface
			r.Route("/admin", func(r chi.Router) {
				r.Use(h.AdminMiddleware)

				r.Route("/limits", func(r chi.Router) {
					r.Get("/global", h.ListGlobalLimits)
					r.Put("/global/{capability}", h.SetGlobalLimit)
					r.Get("/users/{userID}", h.ListUserOverrides)
					r.Put("/users/{userID}/{capability}", h.SetUserOverride)
					r.Delete("/users/{userID}/{capability}", h.ClearUserOverride)
				})

				r.Get("/usage", h.ListUsage)
				r.Post("/usage/reset", h.ResetUsage)
				r.Get("/audit", h.ListAuditLogs)
			})
		})
	})

	return r
}
