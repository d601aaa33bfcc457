package memory

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/joshdurbin/product-cache/internal/cache"
	"github.com/joshdurbin/product-cache/internal/cachekey"
	"github.com/joshdurbin/product-cache/internal/domain"
)

// Cache implements cache.Cache using in-process storage.
// Entries are kept serialized so callers never share memory with the cache.
type Cache struct {
	store  *gocache.Cache
	logger *zap.Logger
}

// New creates a new in-memory cache that sweeps expired entries every cleanupInterval
func New(cleanupInterval time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		store:  gocache.New(gocache.NoExpiration, cleanupInterval),
		logger: logger.Named("fast-cache.memory"),
	}
}

// Get retrieves the product list for a key
func (c *Cache) Get(ctx context.Context, key string) ([]domain.Product, bool) {
	raw, found := c.store.Get(key)
	if !found {
		return nil, false
	}

	payload, ok := raw.([]byte)
	if !ok {
		c.logger.Warn("unexpected cache payload type, treating as miss", zap.String("key", key))
		c.store.Delete(key)
		return nil, false
	}

	var products []domain.Product
	if err := json.Unmarshal(payload, &products); err != nil {
		c.logger.Warn("corrupt cache payload, treating as miss", zap.String("key", key), zap.Error(err))
		c.store.Delete(key)
		return nil, false
	}

	return products, true
}

// Set stores a product list for ttl
func (c *Cache) Set(ctx context.Context, key string, products []domain.Product, ttl time.Duration) error {
	payload, err := json.Marshal(cache.StripTimestamps(products))
	if err != nil {
		return err
	}
	c.store.Set(key, payload, ttl)
	return nil
}

// setRaw stores an arbitrary payload, used to simulate corruption in tests
func (c *Cache) setRaw(key string, payload interface{}, ttl time.Duration) {
	c.store.Set(key, payload, ttl)
}

// Delete removes a single key
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

// Clear removes every key of a category, or every key when category is empty
func (c *Cache) Clear(ctx context.Context, category string) (int, error) {
	if category == "" {
		count := c.store.ItemCount()
		c.store.Flush()
		return count, nil
	}

	prefix := category + cachekey.Separator
	removed := 0
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
			removed++
		}
	}
	return removed, nil
}

// Stats reports the number of live entries overall and per category
func (c *Cache) Stats(ctx context.Context) (*domain.TierStats, error) {
	stats := &domain.TierStats{Categories: make(map[string]int64)}
	// Items only returns unexpired entries
	for key := range c.store.Items() {
		category, _ := cachekey.SplitKey(key)
		stats.Entries++
		stats.Categories[category]++
	}
	return stats, nil
}

// Close flushes the cache
func (c *Cache) Close() error {
	c.store.Flush()
	return nil
}

// Ensure Cache implements the interface
var _ cache.Cache = (*Cache)(nil)
