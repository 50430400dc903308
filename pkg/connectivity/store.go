package connectivity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore persists the connectivity state so other instances and
// restarts start from the last known state.
type StateStore interface {
	// Load returns the stored state; ok is false when nothing is stored.
	Load(ctx context.Context) (state State, ok bool, err error)
	Save(ctx context.Context, state State) error
}

// MemoryStateStore keeps the state in process.
type MemoryStateStore struct {
	mu    sync.Mutex
	state State
	ok    bool
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (s *MemoryStateStore) Load(_ context.Context) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.ok, nil
}

func (s *MemoryStateStore) Save(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.ok = true
	return nil
}

// RedisStateStore keeps the state in Redis under prefix.
type RedisStateStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStateStore creates a store using redisClient. An empty prefix
// defaults to "offline".
func NewRedisStateStore(redisClient *redis.Client, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = "offline"
	}
	return &RedisStateStore{redis: redisClient, prefix: prefix}
}

func (s *RedisStateStore) key(name string) string {
	return s.prefix + ":" + name
}

// Load reads the state. A missing online flag means nothing is stored.
func (s *RedisStateStore) Load(ctx context.Context) (State, bool, error) {
	online, err := s.redis.Get(ctx, s.key(RedisKeyOnline)).Bool()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("get online flag: %w", err)
	}

	changedAt, err := s.redis.Get(ctx, s.key(RedisKeyChangedAt)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return State{}, false, fmt.Errorf("get changed_at: %w", err)
	}

	lastObserved, err := s.redis.Get(ctx, s.key(RedisKeyLastObserved)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return State{}, false, fmt.Errorf("get last_observed: %w", err)
	}

	state := State{Online: online}
	if changedAt > 0 {
		state.ChangedAt = time.UnixMilli(changedAt).UTC()
	}
	if lastObserved > 0 {
		state.LastObserved = time.UnixMilli(lastObserved).UTC()
	}
	return state, true, nil
}

// Save writes all fields in one transaction.
func (s *RedisStateStore) Save(ctx context.Context, state State) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(RedisKeyOnline), state.Online, 0)
		pipe.Set(ctx, s.key(RedisKeyChangedAt), state.ChangedAt.UnixMilli(), 0)
		pipe.Set(ctx, s.key(RedisKeyLastObserved), state.LastObserved.UnixMilli(), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store connectivity state in redis: %w", err)
	}
	return nil
}
