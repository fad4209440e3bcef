package idempotency

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mrgun/server/internal/config"
)

func TestMemoryStoreBasicOperations(t *testing.T) {
	store := NewMemoryStoreWithSize(10)
	defer store.Stop()

	ctx := context.Background()

	if _, found := store.Get(ctx, "missing"); found {
		t.Error("expected a miss for an unknown key")
	}

	response := &Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"status":"ok"}`),
		CachedAt:   time.Now(),
	}

	if err := store.Set(ctx, "key1", response, 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	retrieved, found := store.Get(ctx, "key1")
	if !found {
		t.Fatal("expected to find key1")
	}
	if retrieved.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", retrieved.StatusCode)
	}
	if string(retrieved.Body) != `{"status":"ok"}` {
		t.Errorf("Body = %s, want the cached body", retrieved.Body)
	}
}

func TestMemoryStoreExpiration(t *testing.T) {
	store := NewMemoryStoreWithSize(10)
	defer store.Stop()

	ctx := context.Background()
	response := &Response{StatusCode: 200, Body: []byte("x"), CachedAt: time.Now()}

	if err := store.Set(ctx, "expiring", response, 10*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, found := store.Get(ctx, "expiring"); !found {
		t.Fatal("expected to find the key before expiry")
	}

	time.Sleep(50 * time.Millisecond)

	if _, found := store.Get(ctx, "expiring"); found {
		t.Error("expected the key to expire")
	}
}

func TestMemoryStoreLRUEviction(t *testing.T) {
	store := NewMemoryStoreWithSize(3)
	defer store.Stop()

	ctx := context.Background()
	response := &Response{StatusCode: 200, Body: []byte("x"), CachedAt: time.Now()}

	for i := 1; i <= 3; i++ {
		if err := store.Set(ctx, fmt.Sprintf("key%d", i), response, 5*time.Minute); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}

	// Touch key1 so key2 becomes the eviction candidate.
	if _, found := store.Get(ctx, "key1"); !found {
		t.Fatal("expected to find key1")
	}

	if err := store.Set(ctx, "key4", response, 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, found := store.Get(ctx, "key2"); found {
		t.Error("expected key2 to be evicted as least recently used")
	}
	for _, key := range []string{"key1", "key3", "key4"} {
		if _, found := store.Get(ctx, key); !found {
			t.Errorf("expected to find %s", key)
		}
	}
}

func TestMemoryStoreUpdateExistingKey(t *testing.T) {
	store := NewMemoryStoreWithSize(10)
	defer store.Stop()

	ctx := context.Background()

	first := &Response{StatusCode: 200, Body: []byte(`{"version":1}`), CachedAt: time.Now()}
	if err := store.Set(ctx, "update-key", first, 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	second := &Response{StatusCode: 201, Body: []byte(`{"version":2}`), CachedAt: time.Now()}
	if err := store.Set(ctx, "update-key", second, 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	retrieved, found := store.Get(ctx, "update-key")
	if !found {
		t.Fatal("expected to find the updated key")
	}
	if retrieved.StatusCode != 201 {
		t.Errorf("StatusCode = %d, want 201", retrieved.StatusCode)
	}
	if string(retrieved.Body) != `{"version":2}` {
		t.Errorf("Body = %s, want the updated body", retrieved.Body)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStoreWithSize(10)
	defer store.Stop()

	ctx := context.Background()
	response := &Response{StatusCode: 200, Body: []byte("x"), CachedAt: time.Now()}

	if err := store.Set(ctx, "delete-key", response, 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Delete(ctx, "delete-key"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, found := store.Get(ctx, "delete-key"); found {
		t.Error("expected the key to be gone after Delete")
	}

	// Deleting an absent key is a no-op.
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete() on absent key error = %v", err)
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	const maxSize = 100
	const numGoroutines = 20
	const opsPerGoroutine = 50

	store := NewMemoryStoreWithSize(maxSize)
	defer store.Stop()

	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for j := 0; j < opsPerGoroutine; j++ {
				key := fmt.Sprintf("worker%d-key%d", workerID, j)
				response := &Response{
					StatusCode: 200,
					Body:       []byte(fmt.Sprintf(`{"worker":%d,"op":%d}`, workerID, j)),
					CachedAt:   time.Now(),
				}

				if err := store.Set(ctx, key, response, 5*time.Minute); err != nil {
					t.Errorf("Set() error = %v", err)
					return
				}
				// The key may already be evicted; only corruption matters.
				_, _ = store.Get(ctx, key)
			}
		}(i)
	}

	wg.Wait()

	store.mu.Lock()
	cacheSize := len(store.cache)
	lruSize := store.lru.Len()
	store.mu.Unlock()

	if cacheSize > maxSize {
		t.Errorf("cache size %d exceeds the %d entry cap", cacheSize, maxSize)
	}
	if cacheSize != lruSize {
		t.Errorf("cache size %d does not match LRU list size %d", cacheSize, lruSize)
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	store, err := NewStoreFromConfig(config.IdempotencyConfig{Backend: "memory", MaxEntries: 5})
	if err != nil {
		t.Fatalf("NewStoreFromConfig(memory) error = %v", err)
	}
	mem, ok := store.(*MemoryStore)
	if !ok {
		t.Fatalf("memory backend returned %T, want *MemoryStore", store)
	}
	mem.Stop()

	// An empty backend falls back to memory.
	store, err = NewStoreFromConfig(config.IdempotencyConfig{})
	if err != nil {
		t.Fatalf("NewStoreFromConfig(default) error = %v", err)
	}
	if mem, ok := store.(*MemoryStore); ok {
		mem.Stop()
	} else {
		t.Errorf("default backend returned %T, want *MemoryStore", store)
	}

	if _, err := NewStoreFromConfig(config.IdempotencyConfig{Backend: "memcached"}); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}
