// Package httpapi wires the admin and event-intake HTTP API (Gin) to the bot:
// the endpoint registry, the event dispatcher and the order sessions. It
// centralizes tracing, correlation ids, logging, recovery, compression,
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

	"github.com/tbourn/go-order-bot/internal/config"
	"github.com/tbourn/go-order-bot/internal/dedup"
	"github.com/tbourn/go-order-bot/internal/http/handlers"
	"github.com/tbourn/go-order-bot/internal/http/middleware"
	"github.com/tbourn/go-order-bot/internal/services"
)

// Deps are the collaborators behind the API.
type Deps struct {
	Registry handlers.EndpointRegistry
	Events   handlers.EventSubmitter
	Sessions handlers.SessionReader

	// Replays reports event ids the dispatcher already accepted, so a retried
	// Idempotency-Key is answered without resubmitting. Optional.
	Replays dedup.Checker

	// Ready reports whether storage is reachable. Optional; /ready always
	// succeeds without it.
	Ready func(ctx context.Context) error
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Global middleware, in order: OpenTelemetry, RequestID and Identity, Logger,
// Recovery, body limit, gzip, Metrics, CORS, security headers. Every route
// under the API prefix also requires the admin bearer token (the X-User-ID it
// vouches for is the caller) and spends the caller's rate budget. POST /events
// checks its Idempotency-Key before the budget so replays are free.
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.Identity(cfg.Security.AdminToken))
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())

	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO even without an Origin header so plain health checks see it.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	var hsts time.Duration
	if cfg.Security.EnableHSTS {
		hsts = cfg.Security.HSTSMaxAge
	}
	r.Use(middleware.SecurityHeaders(hsts))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", func(c *gin.Context) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness check failed")
				handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeUnavailable, "storage unavailable")
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	h := handlers.New(d.Registry, d.Events, d.Sessions, services.NewSessionService(d.Sessions, d.Registry))

	var replays middleware.ReplayLookup
	if d.Replays != nil {
		// Keys are looked up under the same id the dispatcher dedups on.
		replays = func(ctx context.Context, key string) (bool, error) {
			return d.Replays.Claimed(ctx, handlers.EventID(key))
		}
	}
	limit := middleware.NewCallerLimit(cfg.RateRPS, cfg.RateBurst, d.Registry.IsOperator).Handler()

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.RequireIdentity())
	{
		api.GET("/endpoint", limit, h.GetEndpoint)
		api.PUT("/endpoint", limit, h.PutEndpoint)

		api.POST("/events", middleware.EventKey(replays), limit, h.PostEvent)

		api.GET("/sessions", limit, h.ListSessions)
		api.GET("/sessions/:userID", limit, h.GetSession)
	}
}

// limitBody caps request bodies at maxBytes; larger bodies fail to bind.
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
