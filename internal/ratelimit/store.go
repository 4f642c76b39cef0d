package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore increments fixed-window counters. Increment must be atomic per
// key: two concurrent callers never observe the same post-increment value.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

var incrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisStore keeps counters in Redis so every instance shares the same budget.
type RedisStore struct {
	rdb redis.Cmdable
}

// NewRedisStore creates a counter store backed by rdb.
func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Increment bumps key by one and arms its expiry on first use.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ttlMs := ttl.Milliseconds()
	if ttlMs <= 0 {
		ttlMs = 1000
	}
	n, err := incrScript.Run(ctx, s.rdb, []string{key}, ttlMs).Int64()
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", key, err)
	}
	return n, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// ErrStoreFull is returned by MemoryStore when it cannot admit another key.
// Existing keys keep counting; the limiter denies the request for the new one.
var ErrStoreFull = errors.New("rate limit store capacity exceeded")

// MemoryStore keeps counters in process. Counters are not shared between
// instances and are lost on restart, so it only suits single-instance
// deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	maxKeys int
	data    map[string]*memoryCounter
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStoreConfig configures a MemoryStore.
type MemoryStoreConfig struct {
	Now     func() time.Time
	MaxKeys int
}

// NewMemoryStore creates an in-process counter store.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 100000
	}
	return &MemoryStore{
		now:     cfg.Now,
		maxKeys: cfg.MaxKeys,
		data:    make(map[string]*memoryCounter),
	}
}

// Increment bumps key by one under the store lock.
func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[key]
	if ok && !now.Before(c.expiresAt) {
		delete(s.data, key)
		ok = false
	}
	if !ok {
		if len(s.data) >= s.maxKeys {
			s.gc(now)
		}
		if len(s.data) >= s.maxKeys {
			return 0, ErrStoreFull
		}
		c = &memoryCounter{expiresAt: now.Add(ttl)}
		s.data[key] = c
	}
	c.count++
	return c.count, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) gc(now time.Time) {
	for key, c := range s.data {
		if !now.Before(c.expiresAt) {
			delete(s.data, key)
		}
	}
}
