package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorportal/core/internal/breaker"
	"github.com/vendorportal/core/internal/ratelimit"
)

var testSettings = breaker.Settings{FailureThreshold: 1, SuccessThreshold: 1, OpenDuration: time.Hour}

func newRegistry(t *testing.T) *breaker.Registry {
	t.Helper()
	return breaker.NewRegistry(breaker.NewMemoryStore(), breaker.DefaultCatalog(testSettings))
}

func trip(t *testing.T, r *breaker.Registry, id string) {
	t.Helper()
	require.NoError(t, r.RecordOutcome(context.Background(), id, false))
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (breaker.CircuitState, error) {
	return breaker.CircuitState{}, errors.New("down")
}

func (brokenStore) CompareAndSwap(context.Context, int64, breaker.CircuitState) error {
	return errors.New("down")
}

func (brokenStore) Ping(context.Context) error { return errors.New("down") }

func TestCheck_AllClosedIsHealthy(t *testing.T) {
	snap := NewAggregator(newRegistry(t)).Check(context.Background())

	assert.Equal(t, StatusHealthy, snap.Status)
	assert.Equal(t, 7, snap.Summary.Total)
	assert.Equal(t, 7, snap.Summary.Closed)
	assert.Nil(t, snap.RateLimiter)
}

func TestCheck_DatabaseOpenIsUnhealthy(t *testing.T) {
	r := newRegistry(t)
	trip(t, r, breaker.ServiceDatabase)

	snap := NewAggregator(r).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, snap.Status)
	assert.Equal(t, 1, snap.Summary.Open)
}

func TestCheck_CacheOpenIsDegraded(t *testing.T) {
	r := newRegistry(t)
	trip(t, r, breaker.ServiceCache)

	snap := NewAggregator(r).Check(context.Background())
	assert.Equal(t, StatusDegraded, snap.Status)
}

func TestCheck_CriticalDominates(t *testing.T) {
	r := newRegistry(t)
	trip(t, r, breaker.ServiceCache)
	trip(t, r, breaker.ServiceGoogleSSO)
	trip(t, r, breaker.ServiceDatabase)

	assert.Equal(t, StatusUnhealthy, NewAggregator(r).Check(context.Background()).Status)
}

func TestCheck_StoreUnavailableIsUnhealthy(t *testing.T) {
	r := breaker.NewRegistry(brokenStore{}, breaker.DefaultCatalog(testSettings))

	snap := NewAggregator(r).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, snap.Status)
	assert.Equal(t, 7, snap.Summary.Unknown)
	for _, s := range snap.Services {
		assert.Equal(t, breaker.StateUnknown, s.State)
	}
}

func statusFor(t *testing.T, snap Snapshot, id string) ServiceStatus {
	t.Helper()
	for _, s := range snap.Services {
		if s.ServiceID == id {
			return s
		}
	}
	t.Fatalf("service %s missing from snapshot", id)
	return ServiceStatus{}
}

func TestCheck_StateStoreDownFallsBackToProbes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	r := breaker.NewRegistry(breaker.NewRedisStore(client), breaker.DefaultCatalog(testSettings))

	dbCalls := 0
	agg := NewAggregator(r,
		WithProbe(breaker.ServiceDatabase, func(ctx context.Context) error {
			dbCalls++
			return nil
		}),
		WithProbe(breaker.ServiceCache, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}),
	)
	mr.Close()

	snap := agg.Check(context.Background())
	assert.Equal(t, StatusDegraded, snap.Status, "a reachable database keeps the portal serving")
	assert.Equal(t, 1, dbCalls)
	assert.Equal(t, 7, snap.Summary.Unknown)

	db := statusFor(t, snap, breaker.ServiceDatabase)
	assert.Equal(t, breaker.StateUnknown, db.State)
	require.NotNil(t, db.Reachable)
	assert.True(t, *db.Reachable)

	cache := statusFor(t, snap, breaker.ServiceCache)
	require.NotNil(t, cache.Reachable)
	assert.False(t, *cache.Reachable)
	assert.NotEmpty(t, cache.ProbeError)
}

func TestCheck_StateStoreDownAndDatabaseDown(t *testing.T) {
	r := breaker.NewRegistry(brokenStore{}, breaker.DefaultCatalog(testSettings))
	agg := NewAggregator(r, WithProbe(breaker.ServiceDatabase, func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	snap := agg.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, snap.Status)
	assert.Equal(t, "connection refused", statusFor(t, snap, breaker.ServiceDatabase).ProbeError)
}

func TestCheck_FailingProbeOpensCircuit(t *testing.T) {
	r := newRegistry(t)
	calls := 0
	agg := NewAggregator(r,
		WithProbe(breaker.ServiceDatabase, func(ctx context.Context) error {
			calls++
			return errors.New("connection refused")
		}),
		WithProbe(breaker.ServiceCache, func(ctx context.Context) error { return nil }),
	)

	snap := agg.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, snap.Status)
	assert.Equal(t, "connection refused", snap.Services[0].ProbeError)

	// The open circuit short-circuits the next probe.
	snap = agg.Check(context.Background())
	assert.Equal(t, 1, calls)
	assert.Contains(t, snap.Services[0].ProbeError, breaker.ErrCircuitOpen.Error())
}

func TestCheck_ProbeTimeout(t *testing.T) {
	r := newRegistry(t)
	agg := NewAggregator(r,
		WithProbeTimeout(10*time.Millisecond),
		WithProbe(breaker.ServiceMessageBus, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	)

	snap := agg.Check(context.Background())
	assert.Equal(t, StatusDegraded, snap.Status)

	st, err := r.GetServiceHealth(context.Background(), breaker.ServiceMessageBus)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateOpen, st.State)
}

func TestCheck_ReportsRateLimiter(t *testing.T) {
	tiers := ratelimit.NewTierTable(time.Minute, nil)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(ratelimit.MemoryStoreConfig{}), tiers, ratelimit.FailClosed)
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	snap := NewAggregator(newRegistry(t), WithRateLimiter(limiter), WithClock(func() time.Time { return now })).
		Check(context.Background())

	require.NotNil(t, snap.RateLimiter)
	assert.Equal(t, "fail_closed", snap.RateLimiter.FailurePolicy)
	assert.True(t, snap.RateLimiter.StoreReachable)
	assert.Equal(t, now, snap.CheckedAt)
}

func TestCompose(t *testing.T) {
	reachable, unreachable := true, false
	cases := []struct {
		name     string
		services []ServiceStatus
		want     Status
	}{
		{"empty", nil, StatusHealthy},
		{"critical half open", []ServiceStatus{{Critical: true, State: breaker.StateHalfOpen}}, StatusDegraded},
		{"critical unknown", []ServiceStatus{{Critical: true, State: breaker.StateUnknown}}, StatusUnhealthy},
		{"optional unknown", []ServiceStatus{{State: breaker.StateUnknown}}, StatusDegraded},
		{"critical unknown but reachable", []ServiceStatus{{Critical: true, State: breaker.StateUnknown, Reachable: &reachable}}, StatusDegraded},
		{"critical unknown and unreachable", []ServiceStatus{{Critical: true, State: breaker.StateUnknown, Reachable: &unreachable}}, StatusUnhealthy},
		{"optional open then critical open", []ServiceStatus{
			{State: breaker.StateOpen},
			{Critical: true, State: breaker.StateOpen},
		}, StatusUnhealthy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Compose(tc.services))
		})
	}
}

func TestHandler_ReadyStatusCodes(t *testing.T) {
	r := newRegistry(t)
	h := NewHandler(NewAggregator(r))

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	trip(t, r, breaker.ServiceCache)
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded still serves")

	trip(t, r, breaker.ServiceDatabase)
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Data Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Data.Status)
}

func TestHandler_Live(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(NewAggregator(newRegistry(t))).Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
