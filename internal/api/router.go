package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/mentor-labs/internal/identity"
	"github.com/ashureev/mentor-labs/internal/middleware"
)

// RouterConfig wires the handlers served by NewRouter.
type RouterConfig struct {
	Mentor         *MentorHandler
	Health         *HealthHandler
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	IsDevelopment  bool
	// Frontend serves every non-API path. Nil disables it.
	Frontend http.Handler
	// RequestLogging enables chi's request logger.
	RequestLogging bool
}

// NewRouter builds the application router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if cfg.RequestLogging {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	if cfg.Health != nil {
		cfg.Health.RegisterHealth(r)
	}
	r.Handle("/metrics", promhttp.Handler())

	// Session scoped API routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment))
		var limit func(http.Handler) http.Handler
		if cfg.RateLimiter != nil {
			limit = middleware.RateLimit(cfg.RateLimiter)
		}
		cfg.Mentor.RegisterRoutes(r, limit)
	})

	// Serve embedded frontend (SPA catch-all).
	if cfg.Frontend != nil {
		r.Handle("/*", cfg.Frontend)
	}
	return r
}
