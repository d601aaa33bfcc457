package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// ProductRepository is a mock implementation of repository.ProductRepository
type ProductRepository struct {
	mock.Mock
}

// HasSufficientCoverage reports whether enough live products exist for key
func (m *ProductRepository) HasSufficientCoverage(ctx context.Context, key string, minCount int) (bool, error) {
	args := m.Called(ctx, key, minCount)
	return args.Bool(0), args.Error(1)
}

// Query returns live products for key
func (m *ProductRepository) Query(ctx context.Context, key string, limit int) ([]domain.Product, error) {
	args := m.Called(ctx, key, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Product), args.Error(1)
}

// Upsert stores products under key
func (m *ProductRepository) Upsert(ctx context.Context, products []domain.Product, key string, ttlDays int) error {
	args := m.Called(ctx, products, key, ttlDays)
	return args.Error(0)
}

// Lookup finds products by substring or pattern
func (m *ProductRepository) Lookup(ctx context.Context, filter domain.LookupFilter) ([]domain.Product, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Product), args.Error(1)
}

// DeleteByCategory removes every product of a category
func (m *ProductRepository) DeleteByCategory(ctx context.Context, category string) (int64, error) {
	args := m.Called(ctx, category)
	return args.Get(0).(int64), args.Error(1)
}

// DeleteAll removes every product
func (m *ProductRepository) DeleteAll(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// PurgeExpired removes expired products
func (m *ProductRepository) PurgeExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// Stats reports tier stats
func (m *ProductRepository) Stats(ctx context.Context) (*domain.TierStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TierStats), args.Error(1)
}

// TrackQuery adds hits to a served combination
func (m *ProductRepository) TrackQuery(ctx context.Context, category, query string, hits int, lastSeen time.Time) error {
	args := m.Called(ctx, category, query, hits, lastSeen)
	return args.Error(0)
}

// TopQueries returns the most served combinations
func (m *ProductRepository) TopQueries(ctx context.Context, limit int) ([]domain.TrackedQuery, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TrackedQuery), args.Error(1)
}

// Close closes the repository connection
func (m *ProductRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
