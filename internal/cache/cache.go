// Package cache implements the cache-aside layer over Redis. Every
// operation is best-effort: an unreachable store degrades reads to
// misses and makes writes no-ops, so callers always fall back to the
// record store and never fail because of the cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/landhub-tz/backend/internal/logger"
)

// ErrMiss is returned by a Store when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is the minimal key/value contract the client needs. The Redis
// implementation is used in production; tests supply an in-memory fake
// with an injectable clock.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// redisStore adapts a go-redis client to the Store interface.
type redisStore struct {
	rdb *redis.Client
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return val, err
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// NewRedisStore wraps a Redis client as a Store.
func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

// Client is the cache-aside entry point. Values are stored as JSON.
type Client struct {
	store Store
	log   *logger.Logger
}

// New creates a cache client over the given store.
func New(store Store, log *logger.Logger) *Client {
	return &Client{store: store, log: log}
}

// Get reads key into dest. It returns false on a miss, on a store
// failure, or if the stored payload does not decode; all three force
// the caller to recompute.
func (c *Client) Get(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.log.Warn("Cache read failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return false
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.log.Warn("Cache payload corrupt, treating as miss", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return false
	}
	return true
}

// Set stores value under key for ttl. Failures are logged and swallowed.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("Cache value not serializable", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return
	}
	if err := c.store.Set(ctx, key, string(raw), ttl); err != nil {
		c.log.Warn("Cache write failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

// Invalidate removes key. Failures are logged and swallowed.
func (c *Client) Invalidate(ctx context.Context, key string) {
	if err := c.store.Del(ctx, key); err != nil {
		c.log.Warn("Cache invalidation failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}
