package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestTrim(t *testing.T) {
	tests := []struct {
		name        string
		inserts     int
		max         int
		wantLen     int
		wantEvicted int
	}{
		{name: "under limit", inserts: 3, max: 5, wantLen: 3, wantEvicted: 0},
		{name: "at limit", inserts: 5, max: 5, wantLen: 5, wantEvicted: 0},
		{name: "over limit by one", inserts: 6, max: 5, wantLen: 5, wantEvicted: 1},
		{name: "far over limit", inserts: 120, max: 50, wantLen: 50, wantEvicted: 70},
		{name: "unbounded", inserts: 10, max: 0, wantLen: 10, wantEvicted: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := NewMemoryStore("api-v1")
			for i := 0; i < tt.inserts; i++ {
				_ = store.Put(ctx, fmt.Sprintf("k%03d", i), []byte("x"))
			}

			evicted, err := Trim(ctx, store, tt.max)
			if err != nil {
				t.Fatalf("Trim failed: %v", err)
			}
			if evicted != tt.wantEvicted {
				t.Errorf("evicted = %d, want %d", evicted, tt.wantEvicted)
			}

			n, _ := store.Len(ctx)
			if n != tt.wantLen {
				t.Errorf("Len() = %d, want %d", n, tt.wantLen)
			}

			// Survivors are the most recently inserted keys
			keys, _ := store.Keys(ctx)
			if len(keys) > 0 {
				first := fmt.Sprintf("k%03d", tt.inserts-tt.wantLen)
				if keys[0] != first {
					t.Errorf("oldest survivor = %s, want %s", keys[0], first)
				}
			}
		})
	}
}

func TestTrim_ReadsDoNotRefreshPosition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("dynamic-v1")
	_ = store.Put(ctx, "old", []byte("1"))
	_ = store.Put(ctx, "new", []byte("2"))

	// Reading the oldest entry must not protect it from eviction
	if _, err := store.Get(ctx, "old"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	_ = store.Put(ctx, "newest", []byte("3"))

	if _, err := Trim(ctx, store, 2); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest entry survived eviction: %v", err)
	}
}

type failingDeleteStore struct {
	*MemoryStore
}

func (s failingDeleteStore) Delete(ctx context.Context, key string) error {
	return errors.New("quota exceeded")
}

func TestTrim_DeleteError(t *testing.T) {
	ctx := context.Background()
	store := failingDeleteStore{NewMemoryStore("api-v1")}
	_ = store.Put(ctx, "a", []byte("1"))
	_ = store.Put(ctx, "b", []byte("2"))

	evicted, err := Trim(ctx, store, 1)
	if err == nil {
		t.Fatal("Trim should report delete failures")
	}
	if evicted != 0 {
		t.Errorf("evicted = %d, want 0", evicted)
	}
}

type stuckStore struct {
	*MemoryStore
}

// Delete pretends to succeed without removing anything.
func (s stuckStore) Delete(ctx context.Context, key string) error { return nil }

func TestTrim_TerminatesOnStuckBackend(t *testing.T) {
	ctx := context.Background()
	store := stuckStore{NewMemoryStore("api-v1")}
	for i := 0; i < 4; i++ {
		_ = store.Put(ctx, fmt.Sprintf("k%d", i), []byte("x"))
	}

	evicted, err := Trim(ctx, store, 1)
	if err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	if evicted != 3 {
		t.Errorf("evicted = %d, want 3 (bounded by initial overflow)", evicted)
	}
}

func TestGetEntry_PutEntry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("api-v1")

	if _, err := GetEntry(ctx, store, "GET /x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntry on missing key = %v, want ErrNotFound", err)
	}
	if err := PutEntry(ctx, store, "GET /x", nil); err == nil {
		t.Error("PutEntry with nil entry should fail")
	}

	entry := &Entry{Method: "GET", URL: "https://app.example/x", StatusCode: 200, Data: []byte("ok")}
	if err := PutEntry(ctx, store, "GET /x", entry); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}
	got, err := GetEntry(ctx, store, "GET /x")
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if string(got.Data) != "ok" {
		t.Errorf("Data = %q, want ok", got.Data)
	}

	_ = store.Put(ctx, "GET /bad", []byte("garbage"))
	if _, err := GetEntry(ctx, store, "GET /bad"); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("GetEntry on corrupt blob = %v, want ErrInvalidEntry", err)
	}
}
