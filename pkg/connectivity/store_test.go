package connectivity

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestStateStores(t *testing.T) {
	backends := []struct {
		name  string
		store func(t *testing.T) StateStore
	}{
		{"memory", func(t *testing.T) StateStore { return NewMemoryStateStore() }},
		{"redis", func(t *testing.T) StateStore { return NewRedisStateStore(setupTestRedis(t), "test") }},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			store := b.store(t)
			ctx := context.Background()

			if _, ok, err := store.Load(ctx); err != nil || ok {
				t.Fatalf("empty Load = %v, %v", ok, err)
			}

			changed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
			want := State{Online: false, ChangedAt: changed, LastObserved: changed.Add(time.Second)}
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			got, ok, err := store.Load(ctx)
			if err != nil || !ok {
				t.Fatalf("Load = %v, %v", ok, err)
			}
			if got.Online != want.Online || !got.ChangedAt.Equal(want.ChangedAt) || !got.LastObserved.Equal(want.LastObserved) {
				t.Errorf("Load = %+v, want %+v", got, want)
			}
		})
	}
}

func TestRedisStateStore_Keys(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStateStore(client, "px")
	ctx := context.Background()

	if err := store.Save(ctx, State{Online: true}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	for _, key := range []string{RedisKeyOnline, RedisKeyChangedAt, RedisKeyLastObserved} {
		if n, _ := client.Exists(ctx, "px:"+key).Result(); n != 1 {
			t.Errorf("key px:%s missing", key)
		}
	}
}
