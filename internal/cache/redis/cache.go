package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/joshdurbin/product-cache/internal/cache"
	"github.com/joshdurbin/product-cache/internal/cachekey"
	"github.com/joshdurbin/product-cache/internal/domain"
)

// KeyPrefix namespaces every fast-tier key in Redis
const KeyPrefix = "products:"

const scanCount = 500

// Cache implements cache.Cache on Redis. Expiry relies on Redis key TTLs.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// Options configures the Redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger.Named("fast-cache.redis"),
	}
}

// Get retrieves the product list for a key
func (c *Cache) Get(ctx context.Context, key string) ([]domain.Product, bool) {
	payload, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var products []domain.Product
	if err := json.Unmarshal(payload, &products); err != nil {
		c.logger.Warn("corrupt cache payload, treating as miss", zap.String("key", key), zap.Error(err))
		if delErr := c.client.Del(ctx, KeyPrefix+key).Err(); delErr != nil {
			c.logger.Debug("failed to evict corrupt entry", zap.String("key", key), zap.Error(delErr))
		}
		return nil, false
	}

	return products, true
}

// Set stores a product list for ttl
func (c *Cache) Set(ctx context.Context, key string, products []domain.Product, ttl time.Duration) error {
	payload, err := json.Marshal(cache.StripTimestamps(products))
	if err != nil {
		return fmt.Errorf("failed to encode products: %w", err)
	}

	if err := c.client.Set(ctx, KeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes a single key
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, KeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Clear removes every key of a category, or every key when category is empty
func (c *Cache) Clear(ctx context.Context, category string) (int, error) {
	pattern := KeyPrefix + "*"
	if category != "" {
		pattern = KeyPrefix + category + cachekey.Separator + "*"
	}

	keys, err := c.scan(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	removed, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}
	return int(removed), nil
}

// Stats reports the number of live entries overall and per category
func (c *Cache) Stats(ctx context.Context) (*domain.TierStats, error) {
	keys, err := c.scan(ctx, KeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	stats := &domain.TierStats{Categories: make(map[string]int64)}
	for _, key := range keys {
		category, _ := cachekey.SplitKey(strings.TrimPrefix(key, KeyPrefix))
		stats.Entries++
		stats.Categories[category]++
	}
	return stats, nil
}

// scan collects every key matching pattern without blocking the server
func (c *Cache) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
	}
	return keys, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ensure Cache implements the interface
var _ cache.Cache = (*Cache)(nil)
