package cache

import (
	"context"
	"fmt"
)

// Trim enforces a maximum item count on store by deleting the oldest
// inserted key until the store is within bound or empty. A max of zero or
// less means unbounded. It returns the number of evicted entries.
func Trim(ctx context.Context, store BlobStore, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("trim").Inc()
		return 0, fmt.Errorf("list keys: %w", err)
	}

	// Each pass removes one key, so the initial overflow bounds the loop
	// even if a backend fails to shrink.
	evicted := 0
	for budget := len(keys) - max; len(keys) > max && budget > 0; budget-- {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}
		if err := store.Delete(ctx, keys[0]); err != nil {
			CacheErrors.WithLabelValues("trim").Inc()
			return evicted, fmt.Errorf("evict %q: %w", keys[0], err)
		}
		evicted++
		CacheEvictions.WithLabelValues(store.Name()).Inc()

		keys, err = store.Keys(ctx)
		if err != nil {
			CacheErrors.WithLabelValues("trim").Inc()
			return evicted, fmt.Errorf("list keys: %w", err)
		}
	}

	return evicted, nil
}
