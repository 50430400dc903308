package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps named stores in Redis so several worker instances of
// the same origin share them.
//
// Layout per store:
//
//	<prefix>:stores            set of store names
//	<prefix>:store:<name>:seq  insertion counter
//	<prefix>:store:<name>:keys sorted set, member=key score=insertion seq
//	<prefix>:store:<name>:blob hash, field=key value=blob
type RedisStorage struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStorage creates a Redis-backed storage. prefix namespaces all keys.
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

func (s *RedisStorage) namesKey() string {
	return s.prefix + ":stores"
}

// Open implements Storage.
func (s *RedisStorage) Open(ctx context.Context, name string) (BlobStore, error) {
	if err := s.redis.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("redis sadd: %w", err)
	}
	base := s.prefix + ":store:" + name
	return &RedisStore{
		redis:   s.redis,
		name:    name,
		seqKey:  base + ":seq",
		keysKey: base + ":keys",
		blobKey: base + ":blob",
	}, nil
}

// Names implements Storage.
func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.redis.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Drop implements Storage.
func (s *RedisStorage) Drop(ctx context.Context, name string) error {
	base := s.prefix + ":store:" + name
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, base+":seq", base+":keys", base+":blob")
		pipe.SRem(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("drop").Inc()
		return fmt.Errorf("redis drop store: %w", err)
	}
	return nil
}

// RedisStore is a BlobStore backed by a Redis sorted set and hash.
type RedisStore struct {
	redis   *redis.Client
	name    string
	seqKey  string
	keysKey string
	blobKey string
}

// Name implements BlobStore.
func (s *RedisStore) Name() string { return s.name }

// Get implements BlobStore.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	blob, err := s.redis.HGet(ctx, s.blobKey, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	return blob, nil
}

// Put implements BlobStore. The blob and its insertion position are
// written in one MULTI/EXEC; ZADD NX keeps the position of existing keys.
func (s *RedisStore) Put(ctx context.Context, key string, blob []byte) error {
	seq, err := s.redis.Incr(ctx, s.seqKey).Result()
	if err != nil {
		return fmt.Errorf("redis incr: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.blobKey, key, blob)
		pipe.ZAddNX(ctx, s.keysKey, redis.Z{Score: float64(seq), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// Delete implements BlobStore.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.keysKey, key)
		pipe.HDel(ctx, s.blobKey, key)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Keys implements BlobStore.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.redis.ZRange(ctx, s.keysKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return keys, nil
}

// Len implements BlobStore.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.redis.ZCard(ctx, s.keysKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return int(n), nil
}
