package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/costaverde-offline/pkg/cache"
)

// CapturedWrite is a write request captured to the outbox while offline.
type CapturedWrite struct {
	// Key is the outbox key: "METHOD url#idempotency-key"
	Key string

	// IdempotencyKey is the key sent with every attempt of this write
	IdempotencyKey string

	Entry *cache.Entry
}

func (m *CacheManager) capturable(p string) bool {
	for _, prefix := range m.config.CapturePrefixes {
		if HasPathPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (m *CacheManager) capture(ctx context.Context, entry *cache.Entry, idemKey string) error {
	outbox := m.outboxStore()
	if outbox == nil {
		return ErrNotActive
	}

	key := cache.RequestKey{Method: entry.Method, URL: entry.URL, Discriminator: idemKey}.String()
	if err := cache.PutEntry(context.WithoutCancel(ctx), outbox, key, entry); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Failed to capture offline write")
		return err
	}

	capturedWritesTotal.Inc()
	m.logger.Info().
		Str("key", key).
		Str("method", entry.Method).
		Str("url", entry.URL).
		Msg("Captured offline write")
	return nil
}

// CapturedWrites returns the captured writes in capture order. Entries
// that cannot be decoded are skipped.
func (m *CacheManager) CapturedWrites(ctx context.Context) ([]CapturedWrite, error) {
	outbox := m.outboxStore()
	if outbox == nil {
		return nil, ErrNotActive
	}

	keys, err := outbox.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}

	writes := make([]CapturedWrite, 0, len(keys))
	for _, key := range keys {
		entry, err := cache.GetEntry(ctx, outbox, key)
		if err != nil {
			if !errors.Is(err, cache.ErrNotFound) {
				m.logger.Warn().Err(err).Str("key", key).Msg("Skipping unreadable captured write")
			}
			continue
		}
		rk, err := cache.ParseRequestKey(key)
		if err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Skipping captured write with malformed key")
			continue
		}
		idemKey := entry.RequestHeaders.Get(IdempotencyKeyHeader)
		if idemKey == "" {
			idemKey = rk.Discriminator
		}
		writes = append(writes, CapturedWrite{Key: key, IdempotencyKey: idemKey, Entry: entry})
	}
	return writes, nil
}

// DeleteCapturedWrite removes a replayed write from the outbox.
func (m *CacheManager) DeleteCapturedWrite(ctx context.Context, key string) error {
	outbox := m.outboxStore()
	if outbox == nil {
		return ErrNotActive
	}
	if err := outbox.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete captured write: %w", err)
	}
	return nil
}

// Invalidate deletes the cached api reads under prefix so responses
// that predate a replayed write are not served again. It returns the
// number of deleted entries.
func (m *CacheManager) Invalidate(ctx context.Context, prefix string) (int, error) {
	store := m.store(CategoryAPI)
	if store == nil {
		return 0, ErrNotActive
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list api store: %w", err)
	}

	deleted := 0
	for _, key := range keys {
		rk, err := cache.ParseRequestKey(key)
		if err != nil || !HasPathPrefix(rk.Path(), prefix) {
			continue
		}
		if err := store.Delete(ctx, key); err != nil {
			return deleted, fmt.Errorf("invalidate %q: %w", key, err)
		}
		deleted++
	}
	if deleted > 0 {
		m.logger.Debug().Str("prefix", prefix).Int("deleted", deleted).Msg("Invalidated cached api reads")
	}
	return deleted, nil
}

func (m *CacheManager) outboxStore() cache.BlobStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outbox
}
