package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/comfortindex/comfort-dashboard/internal/models"
)

// RedisCache implements Cache backed by Redis. Batches are stored as JSON
// with Redis' native key expiry carrying the TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a RedisCache for the given address. password may be
// empty and db is the logical database index.
func NewRedisCache(addr, password string, db int) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (c *RedisCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get. Returns (nil, false, nil) on miss or expiry.
func (c *RedisCache) Get(ctx context.Context, key string) ([]models.ScoredCity, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var batch []models.ScoredCity
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, false, err
	}
	return batch, true, nil
}

// Set implements Cache.Set.
func (c *RedisCache) Set(ctx context.Context, key string, batch []models.ScoredCity, ttl time.Duration) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), raw, ttl).Err()
}

// Ping checks if Redis is reachable. Used for health checks.
func (c *RedisCache) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connections. Call during shutdown.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
