package repository

import (
	"context"
	"time"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// ProductRepository defines the durable tier: individual product records
// partitioned by canonical key, each with an explicit expiry
type ProductRepository interface {
	// HasSufficientCoverage reports whether at least minCount live products exist for key
	HasSufficientCoverage(ctx context.Context, key string, minCount int) (bool, error)

	// Query returns up to limit live products for key, most recently created first
	Query(ctx context.Context, key string, limit int) ([]domain.Product, error)

	// Upsert stores products under key, expiring ttlDays from now.
	// A product with an existing external id in the same partition is updated.
	Upsert(ctx context.Context, products []domain.Product, key string, ttlDays int) error

	// Lookup finds live products by substring or regular expression over title and partition
	Lookup(ctx context.Context, filter domain.LookupFilter) ([]domain.Product, error)

	// DeleteByCategory removes every product of a category
	DeleteByCategory(ctx context.Context, category string) (int64, error)

	// DeleteAll removes every product
	DeleteAll(ctx context.Context) (int64, error)

	// PurgeExpired physically removes products whose expiry has passed
	PurgeExpired(ctx context.Context) (int64, error)

	// Stats reports live and expired counts, overall and per category
	Stats(ctx context.Context) (*domain.TierStats, error)

	// TrackQuery adds hits to a served category and query combination
	TrackQuery(ctx context.Context, category, query string, hits int, lastSeen time.Time) error

	// TopQueries returns the most frequently served combinations, most recent first on ties
	TopQueries(ctx context.Context, limit int) ([]domain.TrackedQuery, error)

	// Close closes the repository connection
	Close() error
}
