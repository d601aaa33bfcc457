package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSearchQuery_AppliesDefaults(t *testing.T) {
	q := NewSearchQuery("کفش", "shoes", Options{FastTTL: -5, MaxResults: 0, DurableTTL: 7, Force: true})

	assert.Equal(t, "کفش", q.RawText())
	assert.Equal(t, "shoes", q.Category())
	assert.Equal(t, Options{
		FastTTL:    DefaultFastTTL,
		DurableTTL: 7,
		MaxResults: DefaultMaxResults,
		Force:      true,
	}, q.Options())
}

func TestOptions_FastTTLDuration(t *testing.T) {
	assert.Equal(t, time.Hour, DefaultOptions().FastTTLDuration())
	assert.Equal(t, 90*time.Second, Options{FastTTL: 90}.FastTTLDuration())
}

func TestProduct_WithoutTimestamps(t *testing.T) {
	now := time.Now()
	p := Product{ExternalID: "a", CreatedAt: &now, ExpiresAt: &now}

	stripped := p.WithoutTimestamps()
	assert.Nil(t, stripped.CreatedAt)
	assert.Nil(t, stripped.ExpiresAt)
	assert.Equal(t, "a", stripped.ExternalID)
	assert.NotNil(t, p.CreatedAt)
}
