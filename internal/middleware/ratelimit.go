package middleware

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/vendorportal/core/internal/api"
	"github.com/vendorportal/core/internal/auth"
	"github.com/vendorportal/core/internal/ratelimit"
)

// VendorRateLimit enforces the caller's tier budget. It must run after
// auth.Middleware so the vendor claims are in the context.
func VendorRateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := auth.GetClaims(r.Context())
			if claims == nil {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			d, err := limiter.CheckRateLimit(r.Context(), claims.VendorID, ratelimit.AccessTier(claims.Tier))
			if err != nil {
				if errors.Is(err, ratelimit.ErrInvalidVendor) {
					api.HandleError(w, api.ErrUnauthorized)
					return
				}
				slog.Error("rate limit check failed", "vendor_id", claims.VendorID, "error", err)
				api.HandleError(w, api.ErrInternalServer)
				return
			}

			if !writeDecision(w, d) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPRateLimit applies tier's budget per client address to public routes.
func IPRateLimit(limiter *ratelimit.Limiter, tier ratelimit.AccessTier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.CheckRateLimit(r.Context(), "ip:"+clientIP(r), tier)
			if err != nil {
				slog.Error("rate limit check failed", "ip", clientIP(r), "error", err)
				api.HandleError(w, api.ErrInternalServer)
				return
			}

			if !writeDecision(w, d) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeDecision sets the rate limit headers and answers 429 when the request
// was denied. It reports whether the request may continue.
func writeDecision(w http.ResponseWriter, d ratelimit.Decision) bool {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}

	if d.Allowed {
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
	api.HandleError(w, api.ErrTooManyRequests)
	return false
}

// clientIP is the socket address of the caller. Forwarding headers are only
// honoured through TrustedRealIP, which rewrites RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
