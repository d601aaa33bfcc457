package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joshdurbin/product-cache/internal/domain"
)

const shoppingBody = `{
  "search_metadata": {"status": "Success"},
  "shopping_results": [
    {
      "position": 1,
      "product_id": "1001",
      "title": "شلوار جین مردانه اسلیم",
      "link": "https://www.digikala.com/product/dkp-1001",
      "product_link": "https://www.google.com/shopping/product/1001",
      "source": "Digikala",
      "price": "۱٬۲۵۰٬۰۰۰ تومان",
      "extracted_price": 1250000,
      "rating": 4.4,
      "reviews": 120,
      "thumbnail": "https://img.example/1.jpg"
    },
    {"position": 2, "product_id": 2002, "title": "malformed id type"}
  ],
  "inline_shopping_results": [
    {"position": 1, "title": "Inline jeans", "link": "https://www.torob.com/p/1", "price": "$35.50"}
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	opts := DefaultOptions()
	opts.APIKey = "test-key"
	opts.BaseURL = server.URL
	opts.BaseDelay = time.Millisecond
	opts.Timeout = 2 * time.Second

	return NewClient(opts, zap.NewNop()), &calls
}

func TestClient_Search_Success(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "google_shopping", q.Get("engine"))
		assert.Equal(t, "شلوار جین مردانه", q.Get("q"))
		assert.Equal(t, "10", q.Get("num"))
		assert.Equal(t, "test-key", q.Get("api_key"))
		assert.Equal(t, "us", q.Get("gl"))
		assert.Equal(t, "fa", q.Get("hl"))
		assert.Equal(t, "desktop", q.Get("device"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(shoppingBody))
	})

	results, err := client.Search(context.Background(), "شلوار جین مردانه", "fashion", 5)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	// The malformed entry is skipped, inline results are appended
	require.Len(t, results, 2)
	assert.Equal(t, "1001", results[0].ProductID)
	assert.Equal(t, "https://www.digikala.com/product/dkp-1001", results[0].Link)
	assert.Equal(t, "https://www.google.com/shopping/product/1001", results[0].ProductLink)
	require.NotNil(t, results[0].ExtractedPrice)
	assert.Equal(t, 1250000.0, *results[0].ExtractedPrice)
	require.NotNil(t, results[0].Reviews)
	assert.Equal(t, 120, *results[0].Reviews)
	assert.Equal(t, "Inline jeans", results[1].Title)
	assert.Nil(t, results[1].ExtractedPrice)
}

func TestClient_Search_NoCredential(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.BaseURL = server.URL
	client := NewClient(opts, zap.NewNop())

	results, err := client.Search(context.Background(), "jeans", "fashion", 5)
	assert.Nil(t, results)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestClient_Search_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  domain.ErrorKind
		wantCalls int32
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"Invalid API key."}`, domain.KindConfiguration, 1},
		{"forbidden", http.StatusForbidden, ``, domain.KindConfiguration, 1},
		{"rate limited", http.StatusTooManyRequests, `{"error":"Too many requests"}`, domain.KindRateLimited, 1},
		{"server error retried", http.StatusInternalServerError, `{"error":"boom"}`, domain.KindUpstreamExhausted, 3},
		{"bad gateway retried", http.StatusBadGateway, `<html>`, domain.KindUpstreamExhausted, 3},
		{"bad request terminal", http.StatusBadRequest, `{"error":"Missing query"}`, domain.KindUpstreamExhausted, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			results, err := client.Search(context.Background(), "jeans", "fashion", 5)
			assert.Nil(t, results)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, domain.KindOf(err))
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(calls))
		})
	}
}

func TestClient_Search_BoundedRetries(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	start := time.Now()
	_, err := client.Search(context.Background(), "jeans", "fashion", 5)
	require.Error(t, err)

	assert.Equal(t, domain.KindUpstreamExhausted, domain.KindOf(err))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	// Backoff is 1x then 2x the base delay
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
}

func TestClient_Search_RecoversAfterTransientFailure(t *testing.T) {
	var attempt int32
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempt, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(shoppingBody))
	})

	results, err := client.Search(context.Background(), "jeans", "fashion", 5)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestClient_Search_ProviderErrorInBody(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantKind  domain.ErrorKind
		wantEmpty bool
	}{
		{"no results", `{"error":"Google hasn't returned any results for this query."}`, "", true},
		{"out of searches", `{"error":"Your account has run out of searches."}`, domain.KindRateLimited, false},
		{"invalid key", `{"error":"Invalid API key. Your API key should be here"}`, domain.KindConfiguration, false},
		{"other", `{"error":"Something odd happened"}`, domain.KindUpstreamExhausted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			results, err := client.Search(context.Background(), "jeans", "fashion", 5)
			if tt.wantEmpty {
				require.NoError(t, err)
				assert.NotNil(t, results)
				assert.Empty(t, results)
				return
			}
			assert.Equal(t, tt.wantKind, domain.KindOf(err))
		})
	}
}

func TestClient_Search_MalformedBodyIsTransient(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"shopping_results": [`))
	})

	_, err := client.Search(context.Background(), "jeans", "fashion", 5)
	assert.Equal(t, domain.KindUpstreamExhausted, domain.KindOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestClient_Search_ContextTimeout(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Search(ctx, "jeans", "fashion", 5)
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamExhausted, domain.KindOf(err))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestClient_Search_BreakerOpens(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client.opts.MaxRetries = 0

	for i := 0; i < int(client.opts.BreakerThreshold); i++ {
		_, err := client.Search(context.Background(), "jeans", "fashion", 5)
		require.Error(t, err)
	}
	before := atomic.LoadInt32(calls)

	_, err := client.Search(context.Background(), "jeans", "fashion", 5)
	assert.Equal(t, domain.KindUpstreamExhausted, domain.KindOf(err))
	assert.Contains(t, err.Error(), "temporarily disabled")
	assert.Equal(t, before, atomic.LoadInt32(calls))
}

func TestClient_Search_RateLimitDoesNotTripBreaker(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	for i := 0; i < int(client.opts.BreakerThreshold)+2; i++ {
		_, err := client.Search(context.Background(), "jeans", "fashion", 5)
		assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))
	}
	assert.Equal(t, int32(client.opts.BreakerThreshold)+2, atomic.LoadInt32(calls))
}

func TestClient_searchURL(t *testing.T) {
	client := NewClient(Options{APIKey: "k", BaseURL: "https://example.test/search.json"}, zap.NewNop())

	u := client.searchURL("a b", 80)
	assert.Contains(t, u, "https://example.test/search.json?")
	assert.Contains(t, u, "num=100")
	assert.Contains(t, u, "q=a+b")
	assert.Contains(t, u, "engine=google_shopping")
	assert.NotContains(t, u, "gl=")
}
