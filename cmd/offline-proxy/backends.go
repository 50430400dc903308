package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/costaverde-offline/internal/config"
	"github.com/Sternrassler/costaverde-offline/pkg/cache"
	"github.com/Sternrassler/costaverde-offline/pkg/connectivity"
	"github.com/Sternrassler/costaverde-offline/pkg/queue"
)

// queueStoreName is the cache store holding the offline queue when the
// queue shares the cache backend.
const queueStoreName = "offline-queue"

// backends bundles the persistence of one proxy instance.
type backends struct {
	cache cache.Storage
	queue queue.Storage
	state connectivity.StateStore

	// preserved are cache stores activation must not drop
	preserved []string
	closers   []func() error
}

func openBackends(ctx context.Context, cfg config.Proxy) (*backends, error) {
	switch cfg.CacheBackend {
	case config.BackendMemory:
		return &backends{
			cache: cache.NewMemoryStorage(),
			queue: queue.NewMemoryStorage(),
			state: connectivity.NewMemoryStateStore(),
		}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
		}
		log.Info().Str("addr", cfg.RedisURL).Msg("Connected to Redis")
		return &backends{
			cache:   cache.NewRedisStorage(client, cfg.RedisPrefix),
			queue:   queue.NewRedisStorage(client, cfg.RedisPrefix),
			state:   connectivity.NewRedisStateStore(client, cfg.RedisPrefix),
			closers: []func() error{client.Close},
		}, nil

	case config.BackendSQLite:
		storage, err := cache.OpenSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store, err := storage.Open(ctx, queueStoreName)
		if err != nil {
			storage.Close()
			return nil, fmt.Errorf("open queue store: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("Opened SQLite cache")
		return &backends{
			cache:     storage,
			queue:     queue.NewBlobStorage(store),
			state:     connectivity.NewMemoryStateStore(),
			preserved: []string{queueStoreName},
			closers:   []func() error{storage.Close},
		}, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}

// Close releases the backend connections.
func (b *backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
