package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// Translator is a mock implementation of translate.Translator
type Translator struct {
	mock.Mock
}

// Translate translates text from source to target
func (m *Translator) Translate(ctx context.Context, text, source, target string) (string, error) {
	args := m.Called(ctx, text, source, target)
	return args.String(0), args.Error(1)
}
