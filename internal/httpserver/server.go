package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/healthtrack/healthtrack-go/forward"
	"github.com/healthtrack/healthtrack-go/internal/auth"
	"github.com/healthtrack/healthtrack-go/internal/config"
	"github.com/healthtrack/healthtrack-go/internal/handlers"
	"github.com/healthtrack/healthtrack-go/internal/metrics"
	"github.com/healthtrack/healthtrack-go/internal/ratelimit"
	"github.com/healthtrack/healthtrack-go/internal/store"
)

// corsMiddleware answers cross-origin requests permissively: the SDK
// runs on arbitrary third-party sites and posts batches from their
// origin. Preflight OPTIONS short-circuits with 204.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready, /metrics, POST /api/v1/events (body-authenticated)
// Authenticated (X-API-Key): /api/v1/usage, /api/v1/platforms/validate
func NewRouter(cfg config.Config, st *store.PostgresStore, limiter *ratelimit.Limiter, forwarders []forward.Forwarder) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Prometheus scrape endpoint.
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Ingestion surface: cross-origin, authenticated by the batch body.
	ingest := r.Group("/api/v1")
	ingest.Use(corsMiddleware())
	ingest.OPTIONS("/events", func(c *gin.Context) {})
	handlers.RegisterEventRoutes(ingest, cfg, st, limiter)

	// Dashboard surface: enforces organization context via X-API-Key.
	dashboard := r.Group("/api/v1")
	dashboard.Use(auth.APIKeyMiddleware(cfg.APIKeys))
	handlers.RegisterUsageRoutes(dashboard, st)
	handlers.RegisterPlatformRoutes(dashboard, forwarders)

	return r
}
