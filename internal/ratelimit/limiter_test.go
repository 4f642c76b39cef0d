package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// windowStart is aligned to a minute boundary so window math is predictable.
var windowStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func setupMiniredis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func newRedisLimiter(t *testing.T, policy FailurePolicy) (*Limiter, *fakeClock, *miniredis.Miniredis) {
	t.Helper()
	client, mr := setupMiniredis(t)
	clock := &fakeClock{now: windowStart.Add(10 * time.Second)}
	tiers := NewTierTable(time.Minute, map[string]int{"STARTER": 5})
	return NewLimiter(NewRedisStore(client), tiers, policy, WithClock(clock.Now)), clock, mr
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	lim, _, _ := newRedisLimiter(t, FailOpen)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := lim.CheckRateLimit(ctx, "vendor-1", TierStarter)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 5, d.Limit)
		assert.Equal(t, 5-i, d.Remaining)
		assert.Zero(t, d.RetryAfter)
	}
}

func TestLimiter_DeniesOverLimit(t *testing.T) {
	lim, _, _ := newRedisLimiter(t, FailOpen)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := lim.CheckRateLimit(ctx, "vendor-1", TierStarter)
		require.NoError(t, err)
	}

	d, err := lim.CheckRateLimit(ctx, "vendor-1", TierStarter)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 50*time.Second, d.RetryAfter)
	assert.Equal(t, 50, d.RetryAfterSeconds())
	assert.Equal(t, windowStart.Add(time.Minute).UnixMilli(), d.ResetAt.UnixMilli())
}

func TestLimiter_WindowRollover(t *testing.T) {
	lim, clock, _ := newRedisLimiter(t, FailOpen)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := lim.CheckRateLimit(ctx, "vendor-1", TierStarter)
		require.NoError(t, err)
	}

	clock.Advance(50 * time.Second)

	d, err := lim.CheckRateLimit(ctx, "vendor-1", TierStarter)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "new window should admit the request")
	assert.Equal(t, 4, d.Remaining)
}

func TestLimiter_VendorsIndependent(t *testing.T) {
	lim, _, _ := newRedisLimiter(t, FailOpen)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = lim.CheckRateLimit(ctx, "vendor-a", TierStarter)
	}

	d, err := lim.CheckRateLimit(ctx, "vendor-b", TierStarter)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestLimiter_UnknownTierUsesMostRestrictive(t *testing.T) {
	lim, _, _ := newRedisLimiter(t, FailOpen)

	d, err := lim.CheckRateLimit(context.Background(), "vendor-1", AccessTier("PLATINUM"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Limit, "STARTER override of 5 is the most restrictive budget")
}

func TestLimiter_TierNameCaseInsensitive(t *testing.T) {
	lim, _, _ := newRedisLimiter(t, FailOpen)

	d, err := lim.CheckRateLimit(context.Background(), "vendor-1", AccessTier("enterprise"))
	require.NoError(t, err)
	assert.Equal(t, DefaultLimits[TierEnterprise], d.Limit)
}

func TestLimiter_EmptyVendorRejected(t *testing.T) {
	lim, _, _ := newRedisLimiter(t, FailOpen)

	_, err := lim.CheckRateLimit(context.Background(), "", TierStarter)
	assert.True(t, errors.Is(err, ErrInvalidVendor))
}

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	lim, _, mr := newRedisLimiter(t, FailOpen)
	mr.Close()

	d, err := lim.CheckRateLimit(context.Background(), "vendor-1", TierStarter)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.Degraded)
	assert.Equal(t, 5, d.Remaining)
}

func TestLimiter_FailsClosedOnStoreError(t *testing.T) {
	lim, _, mr := newRedisLimiter(t, FailClosed)
	mr.Close()

	d, err := lim.CheckRateLimit(context.Background(), "vendor-1", TierStarter)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.Degraded)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfterSeconds(), 0)
}

func TestLimiter_KeyExpires(t *testing.T) {
	lim, _, mr := newRedisLimiter(t, FailOpen)

	_, err := lim.CheckRateLimit(context.Background(), "vendor-1", TierStarter)
	require.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Greater(t, mr.TTL(keys[0]), time.Duration(0))

	mr.FastForward(2 * time.Minute)
	assert.Empty(t, mr.Keys())
}

func TestLimiter_ConcurrentChecksNeverOverAdmit(t *testing.T) {
	stores := map[string]func(t *testing.T) CounterStore{
		"redis": func(t *testing.T) CounterStore {
			client, _ := setupMiniredis(t)
			return NewRedisStore(client)
		},
		"memory": func(t *testing.T) CounterStore {
			return NewMemoryStore(MemoryStoreConfig{})
		},
	}

	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: windowStart}
			tiers := NewTierTable(time.Minute, map[string]int{"STARTER": 20})
			lim := NewLimiter(mk(t), tiers, FailClosed, WithClock(clock.Now))

			var allowed atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < 60; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := lim.CheckRateLimit(context.Background(), "vendor-1", TierStarter)
					if err == nil && d.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int64(20), allowed.Load())
		})
	}
}

func TestTierTable_Defaults(t *testing.T) {
	tiers := NewTierTable(time.Minute, nil)

	for tier, limit := range DefaultLimits {
		p, ok := tiers.Resolve(tier)
		require.True(t, ok)
		assert.Equal(t, limit, p.Limit)
		assert.Equal(t, time.Minute, p.Window)
	}

	p, ok := tiers.Resolve("")
	assert.False(t, ok)
	assert.Equal(t, TierPrivacySafe, p.Tier)
}

func TestTierTable_RestrictiveTieIsStable(t *testing.T) {
	for i := 0; i < 50; i++ {
		tiers := NewTierTable(time.Minute, map[string]int{"STARTER": 20, "SCALE": 20})
		p, ok := tiers.Resolve("BRONZE")
		require.False(t, ok)
		require.Equal(t, TierPrivacySafe, p.Tier)
	}

	tiers := NewTierTable(time.Minute, map[string]int{"PRIVACY_SAFE": 50, "GROWTH": 10, "SCALE": 10})
	p, _ := tiers.Resolve("BRONZE")
	assert.Equal(t, TierGrowth, p.Tier)
	assert.Equal(t, 10, p.Limit)
}

func TestLimiter_FullStoreDeniesNewKeysOnly(t *testing.T) {
	clock := &fakeClock{now: windowStart}
	store := NewMemoryStore(MemoryStoreConfig{Now: clock.Now, MaxKeys: 3})
	tiers := NewTierTable(time.Minute, map[string]int{"STARTER": 5})
	lim := NewLimiter(store, tiers, FailOpen, WithClock(clock.Now))
	ctx := context.Background()

	d, err := lim.CheckRateLimit(ctx, "vendor-1", TierStarter)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	for _, ip := range []string{"ip:1.1.1.1", "ip:2.2.2.2"} {
		_, err := lim.CheckRateLimit(ctx, ip, TierPrivacySafe)
		require.NoError(t, err)
	}

	d, err = lim.CheckRateLimit(ctx, "vendor-2", TierStarter)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "full store must not fall back to fail_open")
	assert.False(t, d.Degraded)
	assert.Equal(t, time.Minute, d.RetryAfter)

	allowed := 1
	for i := 0; i < 10; i++ {
		d, err := lim.CheckRateLimit(ctx, "vendor-1", TierStarter)
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed, "existing keys keep their budget")
}

func TestParseFailurePolicy(t *testing.T) {
	assert.Equal(t, FailClosed, ParseFailurePolicy("fail_closed"))
	assert.Equal(t, FailOpen, ParseFailurePolicy("fail_open"))
	assert.Equal(t, FailOpen, ParseFailurePolicy(""))
}
