package cache

import (
	"context"
	"time"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// Cache defines the fast tier: serialized product lists keyed by canonical key
// with time-based expiry only
type Cache interface {
	// Get retrieves the product list for a key. A corrupt entry is reported as a miss.
	Get(ctx context.Context, key string) ([]domain.Product, bool)

	// Set stores a product list for ttl. Durable-tier timestamps are not stored.
	Set(ctx context.Context, key string, products []domain.Product, ttl time.Duration) error

	// Delete removes a single key
	Delete(ctx context.Context, key string) error

	// Clear removes every key of a category, or every key when category is empty
	Clear(ctx context.Context, category string) (int, error)

	// Stats reports the number of live entries overall and per category
	Stats(ctx context.Context) (*domain.TierStats, error)

	// Close closes the cache connection (if applicable)
	Close() error
}

// StripTimestamps returns copies of products without durable-tier timestamps
func StripTimestamps(products []domain.Product) []domain.Product {
	out := make([]domain.Product, len(products))
	for i, p := range products {
		out[i] = p.WithoutTimestamps()
	}
	return out
}
