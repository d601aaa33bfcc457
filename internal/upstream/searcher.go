// Package upstream calls the paid shopping-search provider.
package upstream

import (
	"context"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// Searcher fetches raw shopping results for a query.
//
// Errors are *domain.SearchError values of kind configuration, rate_limited
// or upstream_exhausted. Transient failures are retried internally and never
// escape as their own kind.
type Searcher interface {
	Search(ctx context.Context, text, category string, maxResults int) ([]domain.RawResult, error)
}
