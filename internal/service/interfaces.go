package service

import (
	"context"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// ProductSearch defines the cache orchestrator and its administrative operations
type ProductSearch interface {
	// GetProducts serves a query from the first tier that can satisfy it.
	// It never returns nil; failures are reported in the response's Error and ErrorCode.
	GetProducts(ctx context.Context, query domain.SearchQuery) *domain.SearchResponse

	// Stats reports the contents of both tiers
	Stats(ctx context.Context) (*domain.CacheStats, error)

	// Clear removes entries from the fast, durable or all tiers, optionally for one category
	Clear(ctx context.Context, tier, category string) (*domain.ClearResult, error)

	// Lookup finds durable-tier products by substring or pattern
	Lookup(ctx context.Context, filter domain.LookupFilter) ([]domain.Product, error)

	// Close closes the service and its dependencies
	Close() error
}

// Recorder counts served queries so they can be refreshed later
type Recorder interface {
	Record(category, query string)
	Close() error
}
