package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vendorportal/core/internal/metrics"
)

const keyPrefix = "ratelimit:"

// ErrInvalidVendor is returned when a check is made without a vendor id.
var ErrInvalidVendor = errors.New("vendor id is required")

// FailurePolicy decides the outcome when the counter store is unreachable.
type FailurePolicy string

const (
	FailOpen   FailurePolicy = "fail_open"
	FailClosed FailurePolicy = "fail_closed"
)

// ParseFailurePolicy normalises a config value, defaulting to FailOpen.
func ParseFailurePolicy(v string) FailurePolicy {
	if FailurePolicy(v) == FailClosed {
		return FailClosed
	}
	return FailOpen
}

// Decision is the result of a single rate limit check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	ResetAt    time.Time     `json:"reset_at"`
	// Degraded is set when the store could not be reached and the decision
	// came from the failure policy.
	Degraded bool `json:"degraded,omitempty"`
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the Retry-After header.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter implements fixed-window rate limiting per (vendor, tier).
type Limiter struct {
	store  CounterStore
	tiers  *TierTable
	policy FailurePolicy
	now    func() time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a Limiter over store.
func NewLimiter(store CounterStore, tiers *TierTable, policy FailurePolicy, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		tiers:  tiers,
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the configured store failure policy.
func (l *Limiter) Policy() FailurePolicy {
	return l.policy
}

// Ping checks the underlying counter store.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// CheckRateLimit counts one request for vendorID against its tier budget.
// The only error returned is ErrInvalidVendor. An unreachable store is
// resolved by the failure policy; a full store denies the new key.
func (l *Limiter) CheckRateLimit(ctx context.Context, vendorID string, tier AccessTier) (Decision, error) {
	if vendorID == "" {
		return Decision{}, ErrInvalidVendor
	}

	policy, known := l.tiers.Resolve(tier)
	if !known {
		slog.Debug("rate limiter: unknown tier, using most restrictive", "tier", tier, "vendor_id", vendorID)
	}

	now := l.now()
	windowMs := policy.Window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1000
	}
	index := now.UnixMilli() / windowMs
	resetAt := time.UnixMilli((index + 1) * windowMs)
	untilReset := resetAt.Sub(now)

	key := fmt.Sprintf("%s%s:%s:%d", keyPrefix, policy.Tier, vendorID, index)

	// TTL outlives the window slightly so late increments never land on an expired key.
	count, err := l.store.Increment(ctx, key, untilReset+time.Second)
	if errors.Is(err, ErrStoreFull) {
		slog.Warn("rate limiter: counter store full, denying new key", "vendor_id", vendorID, "tier", policy.Tier)
		metrics.RateLimitDecisions.WithLabelValues(string(policy.Tier), "capacity_denied").Inc()
		return Decision{
			Allowed:    false,
			Limit:      policy.Limit,
			Remaining:  0,
			RetryAfter: untilReset,
			ResetAt:    resetAt,
		}, nil
	}
	if err != nil {
		metrics.RateLimitStoreErrors.Inc()
		return l.degraded(vendorID, policy, resetAt, untilReset, err), nil
	}

	if count > int64(policy.Limit) {
		metrics.RateLimitDecisions.WithLabelValues(string(policy.Tier), "denied").Inc()
		return Decision{
			Allowed:    false,
			Limit:      policy.Limit,
			Remaining:  0,
			RetryAfter: untilReset,
			ResetAt:    resetAt,
		}, nil
	}

	metrics.RateLimitDecisions.WithLabelValues(string(policy.Tier), "allowed").Inc()
	return Decision{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: policy.Limit - int(count),
		ResetAt:   resetAt,
	}, nil
}

func (l *Limiter) degraded(vendorID string, policy TierPolicy, resetAt time.Time, untilReset time.Duration, err error) Decision {
	if l.policy == FailClosed {
		slog.Warn("rate limiter: store unavailable, failing closed", "error", err, "vendor_id", vendorID)
		metrics.RateLimitDecisions.WithLabelValues(string(policy.Tier), "degraded_denied").Inc()
		return Decision{
			Allowed:    false,
			Limit:      policy.Limit,
			Remaining:  0,
			RetryAfter: untilReset,
			ResetAt:    resetAt,
			Degraded:   true,
		}
	}

	slog.Warn("rate limiter: store unavailable, failing open", "error", err, "vendor_id", vendorID)
	metrics.RateLimitDecisions.WithLabelValues(string(policy.Tier), "degraded_allowed").Inc()
	return Decision{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: policy.Limit,
		ResetAt:   resetAt,
		Degraded:  true,
	}
}
