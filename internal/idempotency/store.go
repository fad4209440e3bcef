// Package idempotency caches responses to operator-initiated POSTs
// keyed by the Idempotency-Key header. A client that retries after a
// network failure replays the stored outcome instead of creating a
// second refund application or recharge order.
package idempotency

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mrgun/server/internal/config"
)

// Response is one cached endpoint response. The JSON tags matter only
// to the redis backend, which stores responses serialized.
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body"`
	CachedAt   time.Time         `json:"cached_at"`
}

// Store caches responses under scoped idempotency keys.
type Store interface {
	// Get returns the cached response for key, if present and fresh.
	Get(ctx context.Context, key string) (*Response, bool)

	// Set stores a response under key for ttl.
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error

	// Delete drops a cached response.
	Delete(ctx context.Context, key string) error
}

// NewStoreFromConfig selects the configured backend: "redis" shares
// the cache across server instances, "memory" keeps it in process.
func NewStoreFromConfig(cfg config.IdempotencyConfig) (Store, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisStore(cfg)
	case "", "memory":
		return NewMemoryStoreWithSize(cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", cfg.Backend)
	}
}

// MemoryStore is an in-process Store with TTL expiry and LRU eviction.
type MemoryStore struct {
	mu          sync.RWMutex
	cache       map[string]*cacheEntry
	expires     map[string]time.Time
	lru         *list.List
	maxSize     int
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type cacheEntry struct {
	key      string
	response *Response
	element  *list.Element
}

const defaultMaxEntries = 10000

// NewMemoryStore creates a memory store with the default entry cap.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(defaultMaxEntries)
}

// NewMemoryStoreWithSize creates a memory store holding at most maxSize
// entries; the least recently used entry is evicted beyond that.
func NewMemoryStoreWithSize(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = defaultMaxEntries
	}

	s := &MemoryStore{
		cache:       make(map[string]*cacheEntry),
		expires:     make(map[string]time.Time),
		lru:         list.New(),
		maxSize:     maxSize,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go s.cleanup()

	return s
}

// Get returns the cached response for key and refreshes its LRU slot.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Response, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.expires[key]
	if !exists || now.After(expiry) {
		return nil, false
	}

	entry, found := s.cache[key]
	if !found {
		return nil, false
	}

	s.lru.MoveToFront(entry.element)

	return entry.response, true
}

// Set stores a response under key for ttl, updating in place when the
// key already exists.
func (s *MemoryStore) Set(ctx context.Context, key string, response *Response, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.cache[key]; exists {
		entry.response = response
		s.expires[key] = now.Add(ttl)
		s.lru.MoveToFront(entry.element)
		return nil
	}

	// Evict before adding so the cache never exceeds maxSize.
	if len(s.cache) >= s.maxSize {
		s.evictLRU()
	}

	entry := &cacheEntry{
		key:      key,
		response: response,
	}
	entry.element = s.lru.PushFront(entry)
	s.cache[key] = entry
	s.expires[key] = now.Add(ttl)

	return nil
}

// evictLRU removes the least recently used entry. Caller holds the lock.
func (s *MemoryStore) evictLRU() {
	element := s.lru.Back()
	if element == nil {
		return
	}

	entry := element.Value.(*cacheEntry)
	s.lru.Remove(element)
	delete(s.cache, entry.key)
	delete(s.expires, entry.key)
}

// Delete removes a cached response.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.cache[key]; exists {
		s.lru.Remove(entry.element)
		delete(s.cache, key)
		delete(s.expires, key)
	}

	return nil
}

// cleanup drops expired entries every few minutes. Expired keys are
// already invisible to Get; this reclaims their memory.
func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *MemoryStore) removeExpired() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for key, expiry := range s.expires {
		if now.After(expiry) {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		if entry, exists := s.cache[key]; exists {
			s.lru.Remove(entry.element)
			delete(s.cache, key)
			delete(s.expires, key)
		}
	}
}

// Stop shuts down the cleanup goroutine.
func (s *MemoryStore) Stop() {
	close(s.stopCleanup)
	<-s.cleanupDone
}
