package cache

import (
	"context"
	"sync"
	"time"

	"github.com/comfortindex/comfort-dashboard/internal/models"
)

// Cache stores ranked city batches with per-entry TTL. Get returns the batch
// if present and not expired, Set overwrites any existing entry wholesale.
type Cache interface {
	Get(ctx context.Context, key string) ([]models.ScoredCity, bool, error)
	Set(ctx context.Context, key string, batch []models.ScoredCity, ttl time.Duration) error
}

// InMemoryCache implements Cache using a mutex-guarded map with TTL-based
// expiration. Expired entries are evicted lazily on read; there is no
// background sweep and no capacity bound.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

// cacheEntry stores one cached batch with its absolute expiry.
type cacheEntry struct {
	batch     []models.ScoredCity
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get retrieves the cached batch for key if present and not expired.
// Returns (batch, true, nil) on hit, (nil, false, nil) on miss. An entry at
// or past its expiry counts as a miss and is removed.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]models.ScoredCity, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}
	return entry.batch, true, nil
}

// Set stores the batch with an absolute expiry computed at write time,
// replacing any existing entry for the key.
func (c *InMemoryCache) Set(ctx context.Context, key string, batch []models.ScoredCity, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		batch:     batch,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}
