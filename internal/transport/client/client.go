package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// Client represents an HTTP client for the product cache API
type Client struct {
	serverURL  string
	token      string
	httpClient *http.Client
}

// NewClient creates a new product cache client. The token is sent as a
// bearer credential on cache-management calls.
func NewClient(serverURL, token string) *Client {
	return &Client{
		serverURL: serverURL,
		token:     token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Search runs a product search. Structured failures reported by the server
// come back as a response with Error set, not as an error.
func (c *Client) Search(ctx context.Context, query, category string, opts domain.Options) (*domain.SearchResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	if category != "" {
		params.Set("category", category)
	}
	if opts.MaxResults > 0 {
		params.Set("max_results", strconv.Itoa(opts.MaxResults))
	}
	if opts.FastTTL > 0 {
		params.Set("fast_ttl", strconv.Itoa(opts.FastTTL))
	}
	if opts.DurableTTL > 0 {
		params.Set("durable_ttl", strconv.Itoa(opts.DurableTTL))
	}

	status, body, err := c.do(ctx, http.MethodGet, "/api/products", params, false)
	if err != nil {
		return nil, err
	}

	var result domain.SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Source == "" {
		return nil, statusError(status, body)
	}

	return &result, nil
}

// Stats retrieves tier statistics
func (c *Client) Stats(ctx context.Context) (*domain.CacheStats, error) {
	var stats domain.CacheStats
	if err := c.admin(ctx, http.MethodGet, "/api/cache/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Clear removes cached entries from a tier, optionally for one category
func (c *Client) Clear(ctx context.Context, tier, category string) (*domain.ClearResult, error) {
	params := url.Values{}
	if tier != "" {
		params.Set("tier", tier)
	}
	if category != "" {
		params.Set("category", category)
	}

	var result domain.ClearResult
	if err := c.admin(ctx, http.MethodDelete, "/api/cache", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Lookup finds stored products by substring or pattern
func (c *Client) Lookup(ctx context.Context, filter domain.LookupFilter) ([]domain.Product, error) {
	params := url.Values{}
	if filter.Match != "" {
		params.Set("match", filter.Match)
	}
	if filter.Pattern != "" {
		params.Set("pattern", filter.Pattern)
	}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}

	var result struct {
		Products []domain.Product `json:"products"`
	}
	if err := c.admin(ctx, http.MethodGet, "/api/cache/products", params, &result); err != nil {
		return nil, err
	}
	return result.Products, nil
}

func (c *Client) admin(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	status, body, err := c.do(ctx, method, path, params, true)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, authenticated bool) (int, []byte, error) {
	target := c.serverURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if authenticated && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func statusError(status int, body []byte) error {
	var e errorBody
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return fmt.Errorf("server returned status %d: %s", status, e.Error)
	}
	return fmt.Errorf("server returned status %d", status)
}
