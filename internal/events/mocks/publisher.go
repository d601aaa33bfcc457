package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// Publisher is a mock implementation of events.Publisher
type Publisher struct {
	mock.Mock
}

// Publish emits a search event
func (m *Publisher) Publish(ctx context.Context, event domain.SearchEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// Close closes the publisher
func (m *Publisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
