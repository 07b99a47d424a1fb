package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// defaultMaximumSize bounds the number of entries held by a Cache.
const defaultMaximumSize = 10_000

// Cache is a thread-safe in-memory cache with time-based expiration. Entries
// expire a fixed duration after they were written.
type Cache[V any] struct {
	store *otter.Cache[string, V]
}

// NewCache creates a cache whose entries are valid for duration.
//
// Parameters:
//   - duration: how long entries are considered valid before expiring
//   - maximumSize: upper bound on the number of entries, 0 for the default
//
// Returns:
//   - *Cache[V]: ready to use cache
func NewCache[V any](duration time.Duration, maximumSize int) *Cache[V] {
	if maximumSize <= 0 {
		maximumSize = defaultMaximumSize
	}

	store := otter.Must(&otter.Options[string, V]{
		MaximumSize:      maximumSize,
		ExpiryCalculator: otter.ExpiryWriting[string, V](duration),
	})

	return &Cache[V]{store: store}
}

// Get returns the cached value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.store.GetIfPresent(key)
}

// Set stores value under key, restarting its expiration.
func (c *Cache[V]) Set(key string, value V) {
	c.store.Set(key, value)
}

// Clear removes every entry, used after a catalog reload.
func (c *Cache[V]) Clear() {
	c.store.InvalidateAll()
}
