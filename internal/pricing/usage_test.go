package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorportal/core/internal/breaker"
)

type stubUsageRepo struct {
	counts   UsageCounts
	err      error
	vendorID string
	from, to time.Time
}

func (r *stubUsageRepo) CountsBetween(_ context.Context, vendorID string, from, to time.Time) (UsageCounts, error) {
	r.vendorID, r.from, r.to = vendorID, from, to
	return r.counts, r.err
}

func TestUsageService_Snapshot(t *testing.T) {
	repo := &stubUsageRepo{counts: UsageCounts{EmailCount: 8_000, SMSCount: 4_000, RecordedCost: dec("38.123456")}}
	svc := NewUsageService(repo, DefaultCalculator(), nil, "")
	now := time.Date(2026, 2, 10, 15, 30, 0, 0, time.UTC)

	snap, err := svc.Snapshot(context.Background(), "vendor-1", now)
	require.NoError(t, err)

	assert.Equal(t, "vendor-1", repo.vendorID)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), repo.from)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), repo.to)

	assert.Equal(t, "2026-02", snap.Period)
	assert.Equal(t, int64(12_000), snap.TotalMessages)
	assert.Equal(t, "GROWTH", snap.Tier, "tier resolves on combined volume")
	assertDecimal(t, "10", snap.DiscountPercent)
	assertDecimal(t, "38.1235", snap.TotalCost)
	assert.Equal(t, 18, snap.DaysRemaining)
}

func TestUsageService_EmptyVendor(t *testing.T) {
	svc := NewUsageService(&stubUsageRepo{}, DefaultCalculator(), nil, "")
	_, err := svc.Snapshot(context.Background(), "", time.Now())
	assert.ErrorIs(t, err, ErrVendorRequired)
}

func TestUsageService_GuardedByBreaker(t *testing.T) {
	settings := breaker.Settings{FailureThreshold: 2, SuccessThreshold: 1, OpenDuration: time.Minute}
	registry := breaker.NewRegistry(breaker.NewMemoryStore(), breaker.DefaultCatalog(settings))
	repo := &stubUsageRepo{err: errors.New("connection refused")}
	svc := NewUsageService(repo, DefaultCalculator(), registry, breaker.ServiceDatabase)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		_, err := svc.Snapshot(ctx, "vendor-1", now)
		require.Error(t, err)
		assert.NotErrorIs(t, err, breaker.ErrCircuitOpen)
	}

	_, err := svc.Snapshot(ctx, "vendor-1", now)
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
}

func TestDaysRemaining(t *testing.T) {
	cases := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 30},
		{time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC), 0},
		{time.Date(2028, 2, 1, 8, 0, 0, 0, time.UTC), 28},
		{time.Date(2026, 4, 15, 8, 0, 0, 0, time.UTC), 15},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, daysRemaining(tc.now), tc.now.String())
	}
}
