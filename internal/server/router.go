package server

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vendorportal/core/internal/audit"
	"github.com/vendorportal/core/internal/auth"
	"github.com/vendorportal/core/internal/breaker"
	"github.com/vendorportal/core/internal/health"
	mw "github.com/vendorportal/core/internal/middleware"
	"github.com/vendorportal/core/internal/pricing"
	"github.com/vendorportal/core/internal/ratelimit"
)

// HandlerSet holds the handlers built in main.go.
type HandlerSet struct {
	Health  *health.Handler
	Pricing *pricing.Handler
	Circuit *breaker.Handler
	Audit   *audit.Handler

	// AuthMiddleware validates the bearer token and stores vendor claims.
	AuthMiddleware func(http.Handler) http.Handler
}

type RouterConfig struct {
	CORSAllowedOrigins []string
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies     []netip.Prefix
	Limiter            *ratelimit.Limiter
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.TrustedRealIP(cfg.TrustedProxies))
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	r.Get("/health/live", h.Health.Live)
	r.Get("/health/ready", h.Health.Ready)
	r.Get("/health", h.Health.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Published price list, limited per client IP at the lowest tier.
		r.With(mw.IPRateLimit(cfg.Limiter, ratelimit.TierPrivacySafe)).
			Get("/pricing/tiers", h.Pricing.Tiers)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Use(mw.VendorRateLimit(cfg.Limiter))

			r.Post("/pricing/batch", h.Pricing.Batch)
			r.Post("/pricing/estimate", h.Pricing.Estimate)
			r.Get("/pricing/usage", h.Pricing.Usage)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.AdminOnly)

				r.Route("/circuits", func(r chi.Router) {
					r.Get("/", h.Circuit.List)
					r.Post("/", h.Circuit.Action)
					r.Get("/summary", h.Circuit.Summary)
					r.Get("/{serviceID}", h.Circuit.Get)
				})

				// Audit listing is backed by Postgres; tests may leave it out.
				if h.Audit != nil {
					r.Get("/audit", h.Audit.List)
				}
			})
		})
	})

	return r
}
