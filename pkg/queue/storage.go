package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/costaverde-offline/pkg/cache"
)

// maxUpdateAttempts bounds the optimistic retries of RedisStorage.Update.
const maxUpdateAttempts = 50

// ErrConflict is returned when an update keeps losing to concurrent writers.
var ErrConflict = errors.New("queue update conflict")

// UpdateFunc receives the user's current writes and returns their
// replacement. Returning an error aborts the update and is passed
// through unchanged. It may be called more than once.
type UpdateFunc func(writes []Write) ([]Write, error)

// Storage persists the writes of one user and kind as a unit.
type Storage interface {
	// Load returns the user's writes in creation order. A user without
	// writes yields an empty slice.
	Load(ctx context.Context, kind Kind, userID string) ([]Write, error)

	// Update atomically replaces the user's writes with fn's result, also
	// against other processes sharing the storage. An empty result
	// removes the user.
	Update(ctx context.Context, kind Kind, userID string, fn UpdateFunc) error

	// Owners lists the users that have writes of kind, sorted.
	Owners(ctx context.Context, kind Kind) ([]string, error)
}

// MemoryStorage is an in-process Storage. It is safe for concurrent use.
type MemoryStorage struct {
	mu     sync.RWMutex
	writes map[Kind]map[string][]Write
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		writes: make(map[Kind]map[string][]Write),
	}
}

// Load implements Storage.
func (s *MemoryStorage) Load(ctx context.Context, kind Kind, userID string) ([]Write, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Write(nil), s.writes[kind][userID]...), nil
}

// Update implements Storage.
func (s *MemoryStorage) Update(ctx context.Context, kind Kind, userID string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	writes, err := fn(append([]Write(nil), s.writes[kind][userID]...))
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		delete(s.writes[kind], userID)
		return nil
	}
	if s.writes[kind] == nil {
		s.writes[kind] = make(map[string][]Write)
	}
	s.writes[kind][userID] = append([]Write(nil), writes...)
	return nil
}

// Owners implements Storage.
func (s *MemoryStorage) Owners(ctx context.Context, kind Kind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make([]string, 0, len(s.writes[kind]))
	for userID := range s.writes[kind] {
		owners = append(owners, userID)
	}
	sort.Strings(owners)
	return owners, nil
}

// RedisStorage keeps each user's writes as a JSON array under
// <prefix>:<StorageKey> and tracks owners in <prefix>:owners:<kind>.
type RedisStorage struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStorage creates a Redis-backed queue storage.
func NewRedisStorage(redisClient *redis.Client, prefix string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "offline"
	}
	return &RedisStorage{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStorage) key(kind Kind, userID string) string {
	return s.prefix + ":" + StorageKey(kind, userID)
}

func (s *RedisStorage) ownersKey(kind Kind) string {
	return s.prefix + ":owners:" + string(kind)
}

// Load implements Storage.
func (s *RedisStorage) Load(ctx context.Context, kind Kind, userID string) ([]Write, error) {
	return decodeWrites(s.redis.Get(ctx, s.key(kind, userID)).Bytes())
}

// Update implements Storage. The user's key is watched while fn runs; a
// concurrent change aborts the transaction and fn is applied again on
// the fresh writes.
func (s *RedisStorage) Update(ctx context.Context, kind Kind, userID string, fn UpdateFunc) error {
	key := s.key(kind, userID)

	txf := func(tx *redis.Tx) error {
		writes, err := decodeWrites(tx.Get(ctx, key).Bytes())
		if err != nil {
			return err
		}
		writes, err = fn(writes)
		if err != nil {
			return err
		}

		var data []byte
		if len(writes) > 0 {
			if data, err = json.Marshal(writes); err != nil {
				return fmt.Errorf("marshal queued writes: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if data == nil {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.ownersKey(kind), userID)
				return nil
			}
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.ownersKey(kind), userID)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrConflict, key, maxUpdateAttempts)
}

func decodeWrites(data []byte, err error) ([]Write, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var writes []Write
	if err := json.Unmarshal(data, &writes); err != nil {
		return nil, fmt.Errorf("unmarshal queued writes: %w", err)
	}
	return writes, nil
}

// Owners implements Storage.
func (s *RedisStorage) Owners(ctx context.Context, kind Kind) ([]string, error) {
	owners, err := s.redis.SMembers(ctx, s.ownersKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(owners)
	return owners, nil
}

// BlobStorage keeps each user's writes as a JSON array under StorageKey
// in one cache store, so the queue can share a cache backend such as
// SQLite. The store must be preserved across cache versions. Updates are
// serialized within the process, so the store must not be shared with
// another process.
type BlobStorage struct {
	mu    sync.Mutex
	store cache.BlobStore
}

// NewBlobStorage creates a queue storage on top of store.
func NewBlobStorage(store cache.BlobStore) *BlobStorage {
	if store == nil {
		panic("blob store cannot be nil")
	}
	return &BlobStorage{store: store}
}

// Load implements Storage.
func (s *BlobStorage) Load(ctx context.Context, kind Kind, userID string) ([]Write, error) {
	data, err := s.store.Get(ctx, StorageKey(kind, userID))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load queued writes: %w", err)
	}

	var writes []Write
	if err := json.Unmarshal(data, &writes); err != nil {
		return nil, fmt.Errorf("unmarshal queued writes: %w", err)
	}
	return writes, nil
}

// Update implements Storage.
func (s *BlobStorage) Update(ctx context.Context, kind Kind, userID string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	writes, err := s.Load(ctx, kind, userID)
	if err != nil {
		return err
	}
	if writes, err = fn(writes); err != nil {
		return err
	}

	key := StorageKey(kind, userID)

	if len(writes) == 0 {
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, cache.ErrNotFound) {
			return fmt.Errorf("delete queued writes: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(writes)
	if err != nil {
		return fmt.Errorf("marshal queued writes: %w", err)
	}
	if err := s.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("save queued writes: %w", err)
	}
	return nil
}

// Owners implements Storage.
func (s *BlobStorage) Owners(ctx context.Context, kind Kind) ([]string, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue keys: %w", err)
	}

	prefix := StorageKey(kind, "")
	owners := make([]string, 0, len(keys))
	for _, key := range keys {
		if userID, ok := strings.CutPrefix(key, prefix); ok && userID != "" {
			owners = append(owners, userID)
		}
	}
	sort.Strings(owners)
	return owners, nil
}
