package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WithoutKeyIsIdentity(t *testing.T) {
	tr := New(Options{}, zap.NewNop())
	assert.IsType(t, Identity{}, tr)

	out, err := tr.Translate(context.Background(), "شلوار جین", "fa", "en")
	require.NoError(t, err)
	assert.Equal(t, "شلوار جین", out)
}

func TestNew_WithKey(t *testing.T) {
	tr := New(Options{APIKey: "k"}, zap.NewNop())
	assert.IsType(t, &GoogleClient{}, tr)
}

func TestGoogleClient_Translate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req translateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "شلوار جین مردانه", req.Q)
		assert.Equal(t, "fa", req.Source)
		assert.Equal(t, "en", req.Target)
		assert.Equal(t, "text", req.Format)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"translations":[{"translatedText":"Men&#39;s jeans"}]}}`))
	}))
	defer server.Close()

	client := NewGoogleClient(Options{APIKey: "secret", BaseURL: server.URL}, zap.NewNop())

	out, err := client.Translate(context.Background(), "شلوار جین مردانه", "fa", "en")
	require.NoError(t, err)
	assert.Equal(t, "Men's jeans", out)
}

func TestGoogleClient_Translate_SkipsWithoutCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	client := NewGoogleClient(Options{APIKey: "secret", BaseURL: server.URL}, zap.NewNop())

	out, err := client.Translate(context.Background(), "   ", "fa", "en")
	require.NoError(t, err)
	assert.Equal(t, "   ", out)

	out, err = client.Translate(context.Background(), "jeans", "en", "en")
	require.NoError(t, err)
	assert.Equal(t, "jeans", out)

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestGoogleClient_Translate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"api error", http.StatusBadRequest, `{"error":{"code":400,"message":"API key not valid"}}`, "API key not valid"},
		{"bare status", http.StatusServiceUnavailable, `{}`, "status 503"},
		{"malformed", http.StatusOK, `not json`, "failed to decode"},
		{"empty", http.StatusOK, `{"data":{"translations":[]}}`, "no translations"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewGoogleClient(Options{APIKey: "secret", BaseURL: server.URL}, zap.NewNop())

			out, err := client.Translate(context.Background(), "jeans", "en", "fa")
			require.Error(t, err)
			assert.Empty(t, out)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGoogleClient_Translate_ErrorHidesKey(t *testing.T) {
	client := NewGoogleClient(Options{APIKey: "super-secret", BaseURL: "http://127.0.0.1:1/translate"}, zap.NewNop())

	_, err := client.Translate(context.Background(), "jeans", "en", "fa")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "super-secret")
}
