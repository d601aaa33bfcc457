package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joshdurbin/product-cache/internal/domain"
)

func newTestCache() *Cache {
	return New(time.Minute, zap.NewNop())
}

func testProducts() []domain.Product {
	now := time.Now()
	return []domain.Product{
		{
			ExternalID:   "p1",
			Title:        "شلوار جین",
			Price:        decimal.RequireFromString("1250000"),
			Currency:     "IRT",
			MerchantLink: "https://www.digikala.com/product/1",
			Category:     "fashion:شلوار جین",
			CreatedAt:    &now,
			ExpiresAt:    &now,
		},
		{
			ExternalID:   "p2",
			Title:        "Jeans",
			Price:        decimal.RequireFromString("19.99"),
			Currency:     "USD",
			MerchantLink: "https://www.amazon.com/dp/2",
			Category:     "fashion:شلوار جین",
		},
	}
}

func TestCache_SetAndGet(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	err := c.Set(ctx, "fashion:jeans", testProducts(), time.Minute)
	require.NoError(t, err)

	products, found := c.Get(ctx, "fashion:jeans")
	require.True(t, found)
	require.Len(t, products, 2)
	assert.Equal(t, "p1", products[0].ExternalID)
	assert.True(t, products[0].Price.Equal(decimal.RequireFromString("1250000")))
	assert.Equal(t, "https://www.digikala.com/product/1", products[0].MerchantLink)

	// Timestamps are never stored in the fast tier
	assert.Nil(t, products[0].CreatedAt)
	assert.Nil(t, products[0].ExpiresAt)

	// Modifying the result must not affect the cache
	products[0].Title = "changed"
	again, _ := c.Get(ctx, "fashion:jeans")
	assert.Equal(t, "شلوار جین", again[0].Title)

	_, found = c.Get(ctx, "fashion:missing")
	assert.False(t, found)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "fashion:jeans", testProducts(), 20*time.Millisecond))
	_, found := c.Get(ctx, "fashion:jeans")
	assert.True(t, found)

	time.Sleep(40 * time.Millisecond)

	_, found = c.Get(ctx, "fashion:jeans")
	assert.False(t, found)
}

func TestCache_CorruptPayloadIsMiss(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	c.setRaw("fashion:bad-json", []byte("{not json"), time.Minute)
	c.setRaw("fashion:bad-type", 42, time.Minute)

	products, found := c.Get(ctx, "fashion:bad-json")
	assert.False(t, found)
	assert.Nil(t, products)

	products, found = c.Get(ctx, "fashion:bad-type")
	assert.False(t, found)
	assert.Nil(t, products)

	// Corrupt entries are evicted
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Entries)
}

func TestCache_Delete(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "fashion:jeans", testProducts(), time.Minute))
	require.NoError(t, c.Delete(ctx, "fashion:jeans"))

	_, found := c.Get(ctx, "fashion:jeans")
	assert.False(t, found)

	// Delete non-existent entry (should not error)
	assert.NoError(t, c.Delete(ctx, "nonexistent"))
}

func TestCache_ClearAndStats(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "fashion:jeans", testProducts(), time.Minute))
	require.NoError(t, c.Set(ctx, "fashion:shirt", testProducts(), time.Minute))
	require.NoError(t, c.Set(ctx, "electronics:laptop", testProducts(), time.Minute))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Entries)
	assert.Equal(t, int64(2), stats.Categories["fashion"])
	assert.Equal(t, int64(1), stats.Categories["electronics"])

	removed, err := c.Clear(ctx, "fashion")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, found := c.Get(ctx, "electronics:laptop")
	assert.True(t, found)

	removed, err = c.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Entries)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Set(ctx, "fashion:jeans", testProducts(), time.Minute)
		}()
		go func() {
			defer wg.Done()
			_, _ = c.Get(ctx, "fashion:jeans")
		}()
	}
	wg.Wait()

	products, found := c.Get(ctx, "fashion:jeans")
	assert.True(t, found)
	assert.Len(t, products, 2)
}
