package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vendorportal/core/internal/metrics"
)

var (
	ErrServiceNotFound   = errors.New("service not found")
	ErrCircuitOpen       = errors.New("circuit open")
	errTooMuchContention = errors.New("circuit state contention: retries exhausted")
)

const maxCASRetries = 16

// UnavailablePolicy decides what IsCallAllowed answers when the state store
// cannot be read.
type UnavailablePolicy string

const (
	AssumeOpen   UnavailablePolicy = "assume_open"
	AssumeClosed UnavailablePolicy = "assume_closed"
)

// ParseUnavailablePolicy normalises a config value, defaulting to AssumeOpen.
func ParseUnavailablePolicy(v string) UnavailablePolicy {
	if UnavailablePolicy(v) == AssumeClosed {
		return AssumeClosed
	}
	return AssumeOpen
}

// Listener is notified after a state transition has been persisted.
type Listener interface {
	OnStateChange(ctx context.Context, from, to State, st CircuitState)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, from, to State, st CircuitState)

func (f ListenerFunc) OnStateChange(ctx context.Context, from, to State, st CircuitState) {
	f(ctx, from, to, st)
}

// ResetEvent records who forced a circuit closed and when.
type ResetEvent struct {
	ServiceID     string    `json:"serviceId"`
	Actor         string    `json:"actor"`
	PreviousState State     `json:"previousState"`
	At            time.Time `json:"at"`
}

// AuditSink receives administrative reset events.
type AuditSink interface {
	CircuitReset(ctx context.Context, e ResetEvent) error
}

// Summary counts catalogued services by state.
type Summary struct {
	Total    int `json:"total"`
	Closed   int `json:"closed"`
	Open     int `json:"open"`
	HalfOpen int `json:"halfOpen"`
	Unknown  int `json:"unknown"`
}

// Registry drives the circuit of every catalogued service.
type Registry struct {
	store     StateStore
	catalog   *Catalog
	policy    UnavailablePolicy
	listeners []Listener
	audit     AuditSink
	now       func() time.Time
}

// Option customises a Registry.
type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithUnavailablePolicy(p UnavailablePolicy) Option {
	return func(r *Registry) { r.policy = p }
}

func WithListener(l Listener) Option {
	return func(r *Registry) { r.listeners = append(r.listeners, l) }
}

func WithAuditSink(a AuditSink) Option {
	return func(r *Registry) { r.audit = a }
}

// NewRegistry creates a Registry over store for the services in catalog.
func NewRegistry(store StateStore, catalog *Catalog, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		catalog: catalog,
		policy:  AssumeOpen,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the services the registry tracks.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// Ping checks the underlying state store.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// IsCallAllowed reports whether a call to serviceID may proceed. An open
// circuit whose open duration has elapsed moves to half_open and admits the
// call as a probe.
func (r *Registry) IsCallAllowed(ctx context.Context, serviceID string) bool {
	svc, ok := r.catalog.Lookup(serviceID)
	if !ok {
		slog.Warn("circuit breaker: call to unregistered service rejected", "service", serviceID)
		return false
	}

	var allowed bool
	_, err := r.update(ctx, svc, func(st *CircuitState, now time.Time) bool {
		switch st.State {
		case StateOpen:
			if st.openElapsed(now) {
				st.transition(StateHalfOpen, now)
				allowed = true
				return true
			}
			allowed = false
		default:
			allowed = true
		}
		return false
	})
	if err != nil {
		allowed = r.policy == AssumeClosed
		slog.Warn("circuit breaker: state unavailable, applying policy",
			"service", serviceID, "policy", r.policy, "allowed", allowed, "error", err)
	}

	if !allowed {
		metrics.CircuitRejectedTotal.WithLabelValues(serviceID).Inc()
	}
	return allowed
}

// RecordOutcome advances the state machine with the result of a guarded call.
func (r *Registry) RecordOutcome(ctx context.Context, serviceID string, success bool) error {
	svc, ok := r.catalog.Lookup(serviceID)
	if !ok {
		return fmt.Errorf("recording outcome for %s: %w", serviceID, ErrServiceNotFound)
	}

	_, err := r.update(ctx, svc, func(st *CircuitState, now time.Time) bool {
		if !success {
			t := now
			st.LastFailure = &t
		}

		switch st.State {
		case StateClosed:
			if success {
				if st.ConsecutiveFailures == 0 {
					return false
				}
				st.ConsecutiveFailures = 0
				return true
			}
			st.ConsecutiveFailures++
			if st.ConsecutiveFailures >= st.FailureThreshold {
				st.transition(StateOpen, now)
			}
			return true

		case StateHalfOpen:
			if !success {
				st.transition(StateOpen, now)
				return true
			}
			st.ConsecutiveSuccesses++
			if st.ConsecutiveSuccesses >= st.SuccessThreshold {
				st.transition(StateClosed, now)
			}
			return true

		default:
			// Late results while open only move the failure timestamp.
			return !success
		}
	})
	if err != nil {
		return fmt.Errorf("recording outcome for %s: %w", serviceID, err)
	}
	return nil
}

// ResetCircuit forces serviceID closed with zeroed counters. actor is recorded
// for audit.
func (r *Registry) ResetCircuit(ctx context.Context, serviceID, actor string) (CircuitState, error) {
	svc, ok := r.catalog.Lookup(serviceID)
	if !ok {
		return CircuitState{}, fmt.Errorf("resetting %s: %w", serviceID, ErrServiceNotFound)
	}

	var previous State
	st, err := r.update(ctx, svc, func(st *CircuitState, now time.Time) bool {
		previous = st.State
		st.transition(StateClosed, now)
		st.LastFailure = nil
		return true
	})
	if err != nil {
		return CircuitState{}, fmt.Errorf("resetting %s: %w", serviceID, err)
	}

	slog.Info("circuit breaker: circuit reset", "service", serviceID, "actor", actor, "previous_state", previous)

	if r.audit != nil {
		event := ResetEvent{
			ServiceID:     serviceID,
			Actor:         actor,
			PreviousState: previous,
			At:            st.LastStateChange,
		}
		if err := r.audit.CircuitReset(ctx, event); err != nil {
			slog.Error("circuit breaker: failed to emit reset audit event", "service", serviceID, "error", err)
		}
	}
	return st, nil
}

// GetServiceHealth returns the stored state of serviceID. A catalogued
// service that has never been touched reports a fresh closed circuit.
func (r *Registry) GetServiceHealth(ctx context.Context, serviceID string) (*CircuitState, error) {
	svc, ok := r.catalog.Lookup(serviceID)
	if !ok {
		return nil, ErrServiceNotFound
	}

	st, err := r.load(ctx, svc)
	if err != nil {
		return nil, fmt.Errorf("reading circuit %s: %w", serviceID, err)
	}
	return &st, nil
}

// GetAllServiceHealth returns the state of every catalogued service.
func (r *Registry) GetAllServiceHealth(ctx context.Context) ([]CircuitState, error) {
	services := r.catalog.Services()
	out := make([]CircuitState, 0, len(services))
	for _, svc := range services {
		st, err := r.load(ctx, svc)
		if err != nil {
			return nil, fmt.Errorf("reading circuit %s: %w", svc.ID, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// GetServicesSummary counts services by state. Services whose state cannot
// be read are counted as unknown.
func (r *Registry) GetServicesSummary(ctx context.Context) Summary {
	var sum Summary
	for _, svc := range r.catalog.Services() {
		sum.Total++
		st, err := r.load(ctx, svc)
		if err != nil {
			sum.Unknown++
			continue
		}
		switch st.State {
		case StateClosed:
			sum.Closed++
		case StateOpen:
			sum.Open++
		case StateHalfOpen:
			sum.HalfOpen++
		default:
			sum.Unknown++
		}
	}
	return sum
}

// InitializeAllServices persists a closed circuit for every catalogued
// service that has no state yet. Existing state is left untouched.
func (r *Registry) InitializeAllServices(ctx context.Context) (int, error) {
	created := 0
	for _, svc := range r.catalog.Services() {
		st := newCircuitState(svc.ID, svc.Settings, r.now())
		st.Version = 1
		err := r.store.CompareAndSwap(ctx, 0, st)
		switch {
		case err == nil:
			created++
			r.publish(ctx, "", StateClosed, st)
		case errors.Is(err, ErrVersionConflict):
		default:
			return created, fmt.Errorf("initializing %s: %w", svc.ID, err)
		}
	}
	slog.Info("circuit breaker: services initialized", "created", created, "total", len(r.catalog.Services()))
	return created, nil
}

// Guard runs fn when the circuit for serviceID admits the call and records
// its outcome. fn's error is returned unchanged.
func (r *Registry) Guard(ctx context.Context, serviceID string, fn func(context.Context) error) error {
	if !r.IsCallAllowed(ctx, serviceID) {
		return fmt.Errorf("%s: %w", serviceID, ErrCircuitOpen)
	}

	callErr := fn(ctx)
	if err := r.RecordOutcome(ctx, serviceID, callErr == nil); err != nil {
		slog.Warn("circuit breaker: failed to record outcome", "service", serviceID, "error", err)
	}
	return callErr
}

func (r *Registry) load(ctx context.Context, svc Service) (CircuitState, error) {
	st, err := r.store.Get(ctx, svc.ID)
	if errors.Is(err, ErrStateNotFound) {
		return newCircuitState(svc.ID, svc.Settings, r.now()), nil
	}
	return st, err
}

// update applies mutate to the current state and persists the result with
// compare-and-swap, retrying on version conflicts. mutate returns false when
// it made no change, in which case nothing is written.
func (r *Registry) update(ctx context.Context, svc Service, mutate func(st *CircuitState, now time.Time) bool) (CircuitState, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return CircuitState{}, err
		}

		current, err := r.load(ctx, svc)
		if err != nil {
			return CircuitState{}, err
		}

		next := current
		if !mutate(&next, r.now()) {
			return current, nil
		}
		next.Version = current.Version + 1

		err = r.store.CompareAndSwap(ctx, current.Version, next)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return CircuitState{}, err
		}

		if next.State != current.State {
			r.publish(ctx, current.State, next.State, next)
		}
		return next, nil
	}
	return CircuitState{}, errTooMuchContention
}

func (r *Registry) publish(ctx context.Context, from, to State, st CircuitState) {
	if from != "" {
		slog.Info("circuit breaker: state change", "service", st.ServiceID, "from", from, "to", to)
	}
	for _, l := range r.listeners {
		l.OnStateChange(ctx, from, to, st)
	}
}
