// Package httpapi wires the settlement HTTP transport (Gin) to the session
// manager, the callback ledger and the winner workflow. It owns middleware
// ordering: tracing, correlation IDs, logging with redaction, panic recovery,
// metrics, idempotency, rate limiting, CORS and security headers.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-auction-settlement/internal/config"
	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/http/handlers"
	"github.com/tbourn/go-auction-settlement/internal/http/middleware"
	"github.com/tbourn/go-auction-settlement/internal/repo"
)

// callbackBurstFactor scales the callback bucket: the gateway retries in
// bursts from a handful of IPs.
const callbackBurstFactor = 4

// idempotencyShim adapts the repository free functions to
// handlers.IdempotencyStore.
type idempotencyShim struct{ db *gorm.DB }

// Get proxies repo.GetIdempotency.
func (s idempotencyShim) Get(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
}

// Create proxies repo.CreateIdempotency.
func (s idempotencyShim) Create(ctx context.Context, userID, scope, key, resourceID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, s.db, userID, scope, key, resourceID, status, ttl)
}

// RegisterRoutes attaches all middleware and endpoints to r. deps.Idempotency
// defaults to the SQLite store in db; deps.IdempotencyTTL to cfg's.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID, then Identity (X-User-ID)
//  3. Logger with header/query/PII redaction
//  4. Recovery, after the logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator, before the limiter so replays bypass it
//  8. CORS and security headers
//  9. gzip
//
// Rate limiting is per route group: user endpoints by user or IP, the
// gateway callback by IP with a larger burst.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps handlers.Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(middleware.Logger(middleware.LogOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Idempotency == nil && db != nil {
		deps.Idempotency = idempotencyShim{db: db}
	}
	if deps.IdempotencyTTL <= 0 {
		deps.IdempotencyTTL = cfg.IdempotencyTTL
	}
	var lookup middleware.IdempotencyLookup
	if store := deps.Idempotency; store != nil {
		lookup = func(ctx context.Context, userID, auctionID, key string, now time.Time) (bool, error) {
			rec, err := store.Get(ctx, userID, auctionID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		}
	}
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup))

	r.Use(corsMiddleware(cfg.CORS)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		HSTS:       cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		NoStore:    true,
		Expose:     []string{"X-Request-ID", "Idempotency-Replayed"},
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(deps)
	api := groupWithPrefix(r, cfg.APIBasePath)

	cbLimit := middleware.NewRateLimiter("callback", cfg.RateRPS*callbackBurstFactor, cfg.RateBurst*callbackBurstFactor, middleware.KeyByIP())
	api.POST("/payment/zalopay/callback", cbLimit.Handler(), h.PaymentCallback)
	api.POST("/payment/zalopay/callback/:sessionId", cbLimit.Handler(), h.PaymentCallback)

	userLimit := middleware.NewRateLimiter("user", cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	user := api.Group("", userLimit.Handler())
	{
		user.GET("/payment/sessions", h.ListSessions)
		user.GET("/payment/sessions/:id", h.GetSession)
		user.POST("/payment/sessions/:id/cancel", h.CancelSession)
		user.GET("/payment/sessions/:id/receipts", h.ListReceipts)
		user.GET("/payment/stats", h.SessionStats)

		user.POST("/auctions/:auctionId/checkout", h.Checkout)
	}
}

// corsMiddleware allows every origin when none are configured, otherwise
// echoes allowlisted origins.
func corsMiddleware(cfg config.CORSConfig) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(cfg.AllowedOrigins) == 0 {
		base.AllowAllOrigins = true
		// Set ACAO even without an Origin header so plain probes see it.
		force := func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		}
		return []gin.HandlerFunc{force, cors.New(base)}
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	echo := func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	}
	base.AllowOrigins = cfg.AllowedOrigins
	return []gin.HandlerFunc{echo, cors.New(base)}
}

// limitBody caps request bodies at maxBytes via http.MaxBytesReader.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
