package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a Redis client against a local instance on DB 15.
// Tests skip when Redis is not reachable; tests/integration covers Redis
// with testcontainers.
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

func setupTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()

	storage, err := OpenSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStorage failed: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func storageBackends(t *testing.T) map[string]func(t *testing.T) Storage {
	return map[string]func(t *testing.T) Storage{
		"memory": func(t *testing.T) Storage { return NewMemoryStorage() },
		"sqlite": func(t *testing.T) Storage { return setupTestSQLite(t) },
		"redis":  func(t *testing.T) Storage { return NewRedisStorage(setupTestRedis(t), "test") },
	}
}

func TestStorage_Contract(t *testing.T) {
	for name, newStorage := range storageBackends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("put get delete", func(t *testing.T) {
				testPutGetDelete(t, newStorage(t))
			})
			t.Run("insertion order", func(t *testing.T) {
				testInsertionOrder(t, newStorage(t))
			})
			t.Run("names and drop", func(t *testing.T) {
				testNamesAndDrop(t, newStorage(t))
			})
			t.Run("trim keeps newest", func(t *testing.T) {
				testTrimKeepsNewest(t, newStorage(t))
			})
		})
	}
}

func testPutGetDelete(t *testing.T, storage Storage) {
	ctx := context.Background()
	store, err := storage.Open(ctx, "api-v1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if store.Name() != "api-v1" {
		t.Errorf("Name() = %q, want api-v1", store.Name())
	}

	if _, err := store.Get(ctx, "GET /missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on missing key = %v, want ErrNotFound", err)
	}

	if err := store.Put(ctx, "GET /a", []byte("one")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	blob, err := store.Get(ctx, "GET /a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(blob) != "one" {
		t.Errorf("Get = %q, want one", blob)
	}

	if err := store.Delete(ctx, "GET /a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "GET /a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}

	// Deleting a missing key is not an error
	if err := store.Delete(ctx, "GET /a"); err != nil {
		t.Errorf("Delete on missing key failed: %v", err)
	}
}

func testInsertionOrder(t *testing.T, storage Storage) {
	ctx := context.Background()
	store, err := storage.Open(ctx, "dynamic-v1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for _, key := range []string{"k1", "k2", "k3"} {
		if err := store.Put(ctx, key, []byte(key)); err != nil {
			t.Fatalf("Put(%s) failed: %v", key, err)
		}
	}

	// Re-putting keeps the original position and replaces the blob
	if err := store.Put(ctx, "k1", []byte("updated")); err != nil {
		t.Fatalf("Put(k1) failed: %v", err)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if want := []string{"k1", "k2", "k3"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys() = %v, want %v", keys, want)
	}

	blob, _ := store.Get(ctx, "k1")
	if string(blob) != "updated" {
		t.Errorf("Get(k1) = %q, want updated", blob)
	}

	n, err := store.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Len() = %d, want 3", n)
	}
}

func testNamesAndDrop(t *testing.T, storage Storage) {
	ctx := context.Background()
	for _, name := range []string{"static-v1", "api-v0", "api-v1"} {
		store, err := storage.Open(ctx, name)
		if err != nil {
			t.Fatalf("Open(%s) failed: %v", name, err)
		}
		if err := store.Put(ctx, "k", []byte(name)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	names, err := storage.Names(ctx)
	if err != nil {
		t.Fatalf("Names failed: %v", err)
	}
	if want := []string{"api-v0", "api-v1", "static-v1"}; !reflect.DeepEqual(names, want) {
		t.Errorf("Names() = %v, want %v", names, want)
	}

	if err := storage.Drop(ctx, "api-v0"); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	names, _ = storage.Names(ctx)
	if want := []string{"api-v1", "static-v1"}; !reflect.DeepEqual(names, want) {
		t.Errorf("Names() after Drop = %v, want %v", names, want)
	}

	// Re-opening a dropped store yields an empty store
	store, _ := storage.Open(ctx, "api-v0")
	if n, _ := store.Len(ctx); n != 0 {
		t.Errorf("re-opened store Len() = %d, want 0", n)
	}

	// Dropping a missing store is not an error
	if err := storage.Drop(ctx, "never-created"); err != nil {
		t.Errorf("Drop on missing store failed: %v", err)
	}
}

func testTrimKeepsNewest(t *testing.T, storage Storage) {
	ctx := context.Background()
	store, err := storage.Open(ctx, "image-v1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	const max = 5
	for i := 0; i < 12; i++ {
		key := fmt.Sprintf("GET /img/%02d.png", i)
		if err := store.Put(ctx, key, []byte{byte(i)}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if _, err := Trim(ctx, store, max); err != nil {
			t.Fatalf("Trim failed: %v", err)
		}
	}

	keys, _ := store.Keys(ctx)
	want := []string{
		"GET /img/07.png", "GET /img/08.png", "GET /img/09.png", "GET /img/10.png", "GET /img/11.png",
	}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys() = %v, want %v", keys, want)
	}
}
