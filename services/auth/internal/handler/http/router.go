package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zzxzyz/ai-meeting-sub001/pkg/health"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/middleware"
)

// RouterConfig carries the collaborators of the auth router.
type RouterConfig struct {
	ServiceName    string
	Service        SessionService
	TokenValidator middleware.TokenValidator
	Health         *health.Handler
	// TrustedProxies may set X-Forwarded-For; nil trusts no proxy.
	TrustedProxies *middleware.TrustedProxies
	// Limiter guards the public endpoints; nil disables rate limiting.
	Limiter middleware.Limiter
	Cookies CookieConfig
	CORS    middleware.CORSConfig
	Logger  *slog.Logger
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RealIP(cfg.TrustedProxies))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	authHandler := NewAuthHandler(cfg.Service, cfg.Cookies, cfg.Logger)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Public endpoints
		r.Group(func(r chi.Router) {
			if cfg.Limiter != nil {
				r.Use(middleware.RateLimit(cfg.Limiter, cfg.Logger))
			}
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
		})

		// Bearer-authenticated endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.TokenValidator))
			r.Delete("/refresh", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})
	})

	return r
}
