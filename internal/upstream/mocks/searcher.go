package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// Searcher is a mock implementation of upstream.Searcher
type Searcher struct {
	mock.Mock
}

// Search fetches raw results for a query
func (m *Searcher) Search(ctx context.Context, text, category string, maxResults int) ([]domain.RawResult, error) {
	args := m.Called(ctx, text, category, maxResults)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RawResult), args.Error(1)
}
