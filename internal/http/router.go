// Package httpapi wires the HTTP transport (Gin) of the bridge: the GitHub
// webhook receiver, liveness, Prometheus metrics, and the read-only /debug
// group. All dependencies are injected.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ku-fe/kufe-discussions-bot/internal/config"
	"github.com/ku-fe/kufe-discussions-bot/internal/http/handlers"
	"github.com/ku-fe/kufe-discussions-bot/internal/http/middleware"
)

// deliveryScope namespaces webhook delivery ids in the seen registry.
const deliveryScope = "github-delivery"

// SeenSet is the time-windowed seen registry. *registry.Registry implements
// it.
type SeenSet interface {
	MarkSeen(scope, item string)
	IsSeen(scope, item string) bool
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Sink     handlers.WebhookSink
	Mappings handlers.MappingReader
	Pending  handlers.PendingReader
	Seen     SeenSet
}

// deliveryLog adapts SeenSet to middleware.DeliveryTracker.
type deliveryLog struct{ seen SeenSet }

func (d deliveryLog) Seen(id string) bool { return d.seen.IsSeen(deliveryScope, id) }
func (d deliveryLog) Remember(id string)  { d.seen.MarkSeen(deliveryScope, id) }

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger, then the per-request scoped logger
//  4. Recovery
//  5. Body size limiter
//  6. Metrics
//  7. Security headers
//
// The /debug group adds CORS, gzip, a per-IP rate limiter and no-store.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		KeepHeaders: []string{middleware.HeaderGitHubDelivery, middleware.HeaderGitHubEvent},
	}))
	r.Use(middleware.ScopedLogger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.MaxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(deps.Sink, deps.Mappings, deps.Pending, handlers.WebhookOptions{
		Secret:     []byte(cfg.GitHub.WebhookSecret),
		SkipVerify: cfg.GitHub.InsecureSkipVerify,
	})

	r.GET("/health", h.Health)

	webhook := []gin.HandlerFunc{h.Webhook}
	if deps.Seen != nil {
		webhook = append([]gin.HandlerFunc{
			middleware.DeliveryDedup(middleware.DeliveryOptions{}, deliveryLog{seen: deps.Seen}),
		}, webhook...)
	}
	r.POST("/webhooks/github", webhook...)

	if !cfg.DebugRoutes {
		return
	}
	debug := r.Group("/debug")
	debug.Use(debugCORS(cfg.CORS.AllowedOrigins))
	debug.Use(gzip.Gzip(gzip.DefaultCompression))
	debug.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP()).Handler())
	debug.Use(middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}))
	{
		debug.GET("/mappings", h.ListMappings)
		debug.GET("/pending", h.ListPending)
		// Preflight target; cors answers it before this runs.
		debug.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}
}

// debugCORS allows any origin when none are configured, otherwise only the
// listed ones. The debug surface is read-only, so only GET is allowed.
func debugCORS(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Accept", "Authorization"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

// limitBody caps the request body at maxBytes using http.MaxBytesReader.
// Reads past the cap fail, which the webhook handler reports as 400. A
// non-positive cap disables the limit.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
