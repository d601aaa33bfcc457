package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// ProductSearch is a mock implementation of service.ProductSearch
type ProductSearch struct {
	mock.Mock
}

// GetProducts serves a query
func (m *ProductSearch) GetProducts(ctx context.Context, query domain.SearchQuery) *domain.SearchResponse {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*domain.SearchResponse)
}

// Stats reports the contents of both tiers
func (m *ProductSearch) Stats(ctx context.Context) (*domain.CacheStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CacheStats), args.Error(1)
}

// Clear removes entries from one or both tiers
func (m *ProductSearch) Clear(ctx context.Context, tier, category string) (*domain.ClearResult, error) {
	args := m.Called(ctx, tier, category)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ClearResult), args.Error(1)
}

// Lookup finds durable-tier products
func (m *ProductSearch) Lookup(ctx context.Context, filter domain.LookupFilter) ([]domain.Product, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Product), args.Error(1)
}

// Close closes the service
func (m *ProductSearch) Close() error {
	args := m.Called()
	return args.Error(0)
}
