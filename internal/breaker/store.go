package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrStateNotFound is returned by a StateStore for a service with no stored state.
	ErrStateNotFound = errors.New("circuit state not found")
	// ErrVersionConflict is returned by CompareAndSwap when the stored version moved.
	ErrVersionConflict = errors.New("circuit state version conflict")
)

// StateStore persists circuit state. CompareAndSwap writes next only when the
// stored version equals expected; expected 0 means no state may exist yet.
type StateStore interface {
	Get(ctx context.Context, serviceID string) (CircuitState, error)
	CompareAndSwap(ctx context.Context, expected int64, next CircuitState) error
	Ping(ctx context.Context) error
}

const stateKeyPrefix = "circuit:"

// RedisStore keeps circuit state as JSON in Redis and serialises writers with
// WATCH/MULTI.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a state store backed by rdb.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, serviceID string) (CircuitState, error) {
	raw, err := s.rdb.Get(ctx, stateKeyPrefix+serviceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return CircuitState{}, ErrStateNotFound
	}
	if err != nil {
		return CircuitState{}, err
	}
	return decodeState(raw)
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, expected int64, next CircuitState) error {
	key := stateKeyPrefix + next.ServiceID
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding circuit %s: %w", next.ServiceID, err)
	}

	txf := func(tx *redis.Tx) error {
		var current int64
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			st, err := decodeState(raw)
			if err != nil {
				return err
			}
			current = st.Version
		}
		if current != expected {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	err = s.rdb.Watch(ctx, txf, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		return ErrVersionConflict
	default:
		return fmt.Errorf("writing circuit %s: %w", next.ServiceID, err)
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func decodeState(raw []byte) (CircuitState, error) {
	var st CircuitState
	if err := json.Unmarshal(raw, &st); err != nil {
		return CircuitState{}, fmt.Errorf("decoding circuit state: %w", err)
	}
	return st, nil
}

// MemoryStore keeps circuit state in process. It is only correct for a single
// instance; state is lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]CircuitState
}

// NewMemoryStore creates an empty in-process state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]CircuitState)}
}

func (s *MemoryStore) Get(_ context.Context, serviceID string) (CircuitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[serviceID]
	if !ok {
		return CircuitState{}, ErrStateNotFound
	}
	return st, nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, expected int64, next CircuitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.states[next.ServiceID].Version != expected {
		return ErrVersionConflict
	}
	s.states[next.ServiceID] = next
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
