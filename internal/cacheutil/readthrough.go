// Package cacheutil provides a small generic read-through cache helper
// for lookups that are too hot to hit storage on every request.
package cacheutil

import (
	"sync"
	"time"
)

// CachedValue is a cached value together with the time it was fetched.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// ReadThrough checks the cache under a read lock and falls back to
// fetchAndCache under the write lock on a miss. The cache is re-checked
// with a fresh timestamp once the write lock is held, so concurrent
// misses for the same entry fetch only once.
func ReadThrough[T any](
	mu *sync.RWMutex,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	now := time.Now()
	mu.RLock()
	if value, ok := checkCache(now); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	now = time.Now()
	if value, ok := checkCache(now); ok {
		return value, nil
	}
	return fetchAndCache(now)
}
