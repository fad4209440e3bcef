package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mrgun/server/internal/config"
)

// keyPrefix namespaces idempotency entries inside a shared Redis.
const keyPrefix = "idem:"

// RedisStore is a Store backed by Redis, for deployments running more
// than one server instance: a retry landing on a different instance
// still finds the cached response.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection with a
// ping before returning.
func NewRedisStore(cfg config.IdempotencyConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", cfg.RedisAddr, err)
	}

	return &RedisStore{rdb: rdb}, nil
}

// Get returns the cached response for key. Any Redis failure reads as
// a miss: the request proceeds without replay protection rather than
// failing.
func (s *RedisStore) Get(ctx context.Context, key string) (*Response, bool) {
	data, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}

	var response Response
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, false
	}
	return &response, true
}

// Set stores a response under key for ttl. Redis expires the entry
// itself; there is no cleanup goroutine to run.
func (s *RedisStore) Set(ctx context.Context, key string, response *Response, ttl time.Duration) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal cached response: %w", err)
	}
	return s.rdb.Set(ctx, keyPrefix+key, data, ttl).Err()
}

// Delete drops a cached response.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, keyPrefix+key).Err()
}

// Close shuts down the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
