package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// Cache is a mock implementation of cache.Cache
type Cache struct {
	mock.Mock
}

// Get retrieves the product list for a key
func (m *Cache) Get(ctx context.Context, key string) ([]domain.Product, bool) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).([]domain.Product), args.Bool(1)
}

// Set stores a product list for ttl
func (m *Cache) Set(ctx context.Context, key string, products []domain.Product, ttl time.Duration) error {
	args := m.Called(ctx, key, products, ttl)
	return args.Error(0)
}

// Delete removes a single key
func (m *Cache) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// Clear removes every key of a category
func (m *Cache) Clear(ctx context.Context, category string) (int, error) {
	args := m.Called(ctx, category)
	return args.Int(0), args.Error(1)
}

// Stats reports tier stats
func (m *Cache) Stats(ctx context.Context) (*domain.TierStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TierStats), args.Error(1)
}

// Close closes the cache connection (if applicable)
func (m *Cache) Close() error {
	args := m.Called()
	return args.Error(0)
}
