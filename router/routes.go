package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mstgnz/coursepay/fanout"
	"github.com/mstgnz/coursepay/handler"
	"github.com/mstgnz/coursepay/infra/middle"
	"github.com/mstgnz/coursepay/infra/response"
	v1 "github.com/mstgnz/coursepay/router/v1"
)

// Deps carries everything the HTTP surface is built from.
type Deps struct {
	API      v1.Handlers
	Health   *handler.HealthHandler
	Webhooks *handler.WebhookHandler
	Hub      *fanout.Hub
	Metrics  http.Handler

	Tokens      middle.TokenValidator
	RateLimiter *middle.RateLimiter
	// WebhookIPs restricts the webhook endpoint; empty allows every source.
	WebhookIPs     []string
	AllowedOrigins []string
}

// New builds the root router.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middle.RequestLoggingMiddleware())
	r.Use(middle.PanicRecoveryMiddleware())
	r.Use(middle.SecurityHeadersMiddleware())
	r.Use(middle.RequestValidationMiddleware())

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Idempotency-Key", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: len(d.AllowedOrigins) > 0,
		MaxAge:           300, // Preflight cache time (second)
	}))

	// no auth
	r.Get("/health", d.Health.CheckHealth)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(middle.IPWhitelistMiddleware(d.WebhookIPs))
		r.Use(middle.RateLimitMiddleware(d.RateLimiter))
		r.Post("/gateway", d.Webhooks.Receive)
	})

	// websocket connections outlive the API timeout
	r.With(middle.AuthMiddleware(d.Tokens)).Get("/ws", d.Hub.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		v1.Routes(r, d.API, d.Tokens, d.RateLimiter)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "Not Found", nil)
	})

	return r
}
