// Package health composes circuit breaker state into a single service status.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/vendorportal/core/internal/breaker"
	"github.com/vendorportal/core/internal/metrics"
	"github.com/vendorportal/core/internal/ratelimit"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultProbeTimeout = 2 * time.Second

// Probe checks one catalogued dependency. It normally runs through that
// dependency's circuit, so a failing probe counts towards opening it.
type Probe func(ctx context.Context) error

// ServiceStatus is one service's line in a Snapshot.
type ServiceStatus struct {
	ServiceID           string        `json:"serviceId"`
	Name                string        `json:"name"`
	Critical            bool          `json:"critical"`
	State               breaker.State `json:"state"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastFailure         *time.Time    `json:"lastFailure,omitempty"`
	LastStateChange     *time.Time    `json:"lastStateChange,omitempty"`
	ProbeError          string        `json:"probeError,omitempty"`
	// Reachable is set when the circuit state could not be read and the
	// probe ran directly instead.
	Reachable           *bool         `json:"reachable,omitempty"`
}

type RateLimiterStatus struct {
	FailurePolicy  string `json:"failurePolicy"`
	StoreReachable bool   `json:"storeReachable"`
}

type Snapshot struct {
	Status      Status             `json:"status"`
	CheckedAt   time.Time          `json:"checkedAt"`
	Services    []ServiceStatus    `json:"services"`
	Summary     breaker.Summary    `json:"summary"`
	RateLimiter *RateLimiterStatus `json:"rateLimiter,omitempty"`
}

// RateLimiter is the part of the limiter the aggregator reports on.
type RateLimiter interface {
	Ping(ctx context.Context) error
	Policy() ratelimit.FailurePolicy
}

type Aggregator struct {
	registry     *breaker.Registry
	probes       map[string]Probe
	limiter      RateLimiter
	probeTimeout time.Duration
	now          func() time.Time
}

type Option func(*Aggregator)

// WithProbe registers the probe for serviceID, replacing any earlier one.
func WithProbe(serviceID string, check Probe) Option {
	return func(a *Aggregator) { a.probes[serviceID] = check }
}

func WithRateLimiter(l RateLimiter) Option {
	return func(a *Aggregator) { a.limiter = l }
}

func WithProbeTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.probeTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(registry *breaker.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry:     registry,
		probes:       make(map[string]Probe),
		probeTimeout: defaultProbeTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Check probes and reads the circuit of each catalogued service within the
// caller's request.
func (a *Aggregator) Check(ctx context.Context) Snapshot {
	services := a.registry.Catalog().Services()
	statuses := make([]ServiceStatus, 0, len(services))
	var sum breaker.Summary
	for _, svc := range services {
		ss := a.checkService(ctx, svc)

		sum.Total++
		switch ss.State {
		case breaker.StateClosed:
			sum.Closed++
		case breaker.StateOpen:
			sum.Open++
		case breaker.StateHalfOpen:
			sum.HalfOpen++
		default:
			sum.Unknown++
		}
		statuses = append(statuses, ss)
	}

	snap := Snapshot{
		Status:    Compose(statuses),
		CheckedAt: a.now().UTC(),
		Services:  statuses,
		Summary:   sum,
	}

	if a.limiter != nil {
		snap.RateLimiter = &RateLimiterStatus{
			FailurePolicy:  string(a.limiter.Policy()),
			StoreReachable: a.limiter.Ping(ctx) == nil,
		}
	}

	metrics.HealthStatus.Set(statusValue(snap.Status))
	return snap
}

func (a *Aggregator) checkService(ctx context.Context, svc breaker.Service) ServiceStatus {
	ss := ServiceStatus{
		ServiceID: svc.ID,
		Name:      svc.Name,
		Critical:  svc.Critical,
		State:     breaker.StateUnknown,
	}
	probe, hasProbe := a.probes[svc.ID]

	st, err := a.registry.GetServiceHealth(ctx, svc.ID)
	if err != nil {
		slog.Warn("health: circuit state unavailable", "service", svc.ID, "error", err)
		if hasProbe {
			// Without a readable circuit the probe result is the only signal.
			perr := a.runProbe(ctx, probe)
			reachable := perr == nil
			ss.Reachable = &reachable
			if perr != nil {
				ss.ProbeError = perr.Error()
			}
		}
		return ss
	}

	if hasProbe {
		perr := a.registry.Guard(ctx, svc.ID, func(ctx context.Context) error {
			return a.runProbe(ctx, probe)
		})
		if perr != nil {
			ss.ProbeError = perr.Error()
		}
		if after, err := a.registry.GetServiceHealth(ctx, svc.ID); err == nil {
			st = after
		}
	}

	ss.State = st.State
	ss.ConsecutiveFailures = st.ConsecutiveFailures
	ss.LastFailure = st.LastFailure
	changed := st.LastStateChange
	ss.LastStateChange = &changed
	return ss
}

func (a *Aggregator) runProbe(ctx context.Context, probe Probe) error {
	ctx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()
	return probe(ctx)
}

// Compose applies the status rule: a critical service that is open or
// unknown makes the portal unhealthy; any other service that is not closed
// only degrades it. An unknown circuit whose direct probe succeeded counts
// as degraded even for a critical service.
func Compose(services []ServiceStatus) Status {
	status := StatusHealthy
	for _, s := range services {
		switch {
		case s.State == breaker.StateClosed:
			continue
		case s.State == breaker.StateHalfOpen:
			status = StatusDegraded
		case s.State == breaker.StateUnknown && s.Reachable != nil && *s.Reachable:
			status = StatusDegraded
		default:
			if s.Critical {
				return StatusUnhealthy
			}
			status = StatusDegraded
		}
	}
	return status
}

func statusValue(s Status) float64 {
	switch s {
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 0
	}
}
