// Package httpapi mounts the ops/admin HTTP surface of the bot: health and
// readiness probes, Prometheus metrics, optional swagger UI and the
// token-protected admin API for flows and onboarding state.
//
// Global middleware order: tracing, request id, access log, recovery, body
// limit, gzip, metrics, CORS, security headers. The admin group adds the
// rate limiter and bearer authentication. The admin API is only mounted when
// an admin token is configured.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/rolegate/docs"
	"github.com/tbourn/rolegate/internal/config"
	"github.com/tbourn/rolegate/internal/http/handlers"
	"github.com/tbourn/rolegate/internal/http/middleware"
)

const (
	maxBodyBytes = 1 << 20
	readyTimeout = 2 * time.Second
)

// Pinger reports backend reachability for /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the routes.
type Deps struct {
	Flows      handlers.FlowService
	Onboarding handlers.OnboardingService
	Store      Pinger
}

// RegisterRoutes attaches middleware and endpoints to r.
func RegisterRoutes(r *gin.Engine, cfg config.Config, deps Deps) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(middleware.LogOptions{MaskHeaders: []string{"X-Admin-Token"}}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(middleware.Metrics())
	r.Use(cors.New(corsConfig(cfg.CORS.AllowedOrigins)))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(deps.Store))

	if cfg.HTTP.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.HTTP.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if cfg.HTTP.AdminToken == "" {
		return
	}
	h := handlers.New(deps.Flows, deps.Onboarding)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())

	api := groupWithPrefix(r, cfg.HTTP.APIBasePath)
	api.Use(rl.Handler(), middleware.AdminAuth(cfg.HTTP.AdminToken))
	{
		community := api.Group("/communities/:community")
		community.GET("/flows", h.ListFlows)
		community.POST("/flows", h.CreateFlow)
		community.GET("/flows/:name", h.GetFlow)
		community.PATCH("/flows/:name", h.UpdateFlow)
		community.DELETE("/flows/:name", h.DeleteFlow)

		community.GET("/onboarding", h.ListPending)
		community.POST("/onboarding/:member/release", h.ReleaseMember)
	}
}

// corsConfig allows any origin when none are configured. Credentials are
// never allowed; the admin token travels in the Authorization header.
func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "Location"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cc
}

func readiness(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness check failed")
				handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeUnavailable, "store unavailable")
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// limitBody caps request bodies; reads past maxBytes fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix treats "" and "/" as the root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
