package cache

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the requested key is not in the store
	ErrNotFound = errors.New("cache entry not found")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// BlobStore is one named store of request-key -> blob pairs.
//
// Keys returns keys in insertion order, oldest first. Re-putting an
// existing key replaces its blob and keeps its position.
type BlobStore interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, blob []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Len(ctx context.Context) (int, error)
}

// Storage manages the set of named stores of one origin.
type Storage interface {
	// Open returns the named store, creating it when missing.
	Open(ctx context.Context, name string) (BlobStore, error)

	// Names lists existing stores in lexical order.
	Names(ctx context.Context) ([]string, error)

	// Drop deletes a store and all its entries. Dropping a missing store is not an error.
	Drop(ctx context.Context, name string) error
}

// GetEntry reads and decodes one entry, counting hits and misses.
func GetEntry(ctx context.Context, store BlobStore, key string) (*Entry, error) {
	blob, err := store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			CacheMisses.WithLabelValues(store.Name()).Inc()
			return nil, ErrNotFound
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	entry, err := UnmarshalEntry(blob)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	CacheHits.WithLabelValues(store.Name()).Inc()
	return entry, nil
}

// PutEntry encodes and stores one entry.
func PutEntry(ctx context.Context, store BlobStore, key string, entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}
	blob, err := entry.Marshal()
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return err
	}
	if err := store.Put(ctx, key, blob); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return err
	}
	return nil
}
