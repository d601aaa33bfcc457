package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/joshdurbin/product-cache/internal/domain"
	"github.com/joshdurbin/product-cache/internal/metrics"
)

const (
	DefaultBaseURL = "https://serpapi.com/search.json"
	DefaultEngine  = "google_shopping"

	// Enrichment drops a share of raw results, so ask for more than needed
	overfetchFactor = 2
	maxRequested    = 100

	maxBodyBytes = 10 << 20
)

// Options configures the SerpApi client. Country, Language and Device are
// passed to the provider verbatim.
type Options struct {
	APIKey     string
	BaseURL    string
	Engine     string
	Country    string
	Language   string
	Device     string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration

	// Consecutive failed searches before the breaker opens, and how long it stays open
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// DefaultOptions returns client options with the default retry and breaker policy
func DefaultOptions() Options {
	return Options{
		BaseURL:          DefaultBaseURL,
		Engine:           DefaultEngine,
		Country:          "us",
		Language:         "fa",
		Device:           "desktop",
		Timeout:          10 * time.Second,
		MaxRetries:       2,
		BaseDelay:        500 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Client searches SerpApi's shopping engine with bounded retries behind a circuit breaker
type Client struct {
	opts       Options
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a SerpApi client
func NewClient(opts Options, logger *zap.Logger) *Client {
	defaults := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = defaults.BaseURL
	}
	if opts.Engine == "" {
		opts.Engine = defaults.Engine
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = defaults.BreakerThreshold
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = defaults.BreakerCooldown
	}

	log := logger.Named("upstream")

	c := &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     log,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "serpapi",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Caller-side problems say nothing about provider health
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			switch domain.KindOf(err) {
			case domain.KindConfiguration, domain.KindRateLimited:
				return true
			}
			return false
		},
	})

	return c
}

// Search fetches raw results for text. category is not sent to the provider.
func (c *Client) Search(ctx context.Context, text, category string, maxResults int) ([]domain.RawResult, error) {
	if c.opts.APIKey == "" {
		metrics.RecordUpstreamCall(metrics.OutcomeConfig, 0)
		return nil, domain.NewConfigurationError("upstream API key is not set")
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.searchWithRetry(ctx, text, maxResults)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordUpstreamCall(metrics.OutcomeBreakerOpen, 0)
			c.logger.Warn("upstream search short-circuited", zap.String("category", category), zap.Error(err))
			return nil, domain.NewExhaustedError("provider temporarily disabled after repeated failures", err)
		}
		return nil, err
	}

	return result.([]domain.RawResult), nil
}

// searchWithRetry makes up to MaxRetries+1 attempts, waiting BaseDelay*n before attempt n+1
func (c *Client) searchWithRetry(ctx context.Context, text string, maxResults int) ([]domain.RawResult, error) {
	attempts := c.opts.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := c.opts.BaseDelay * time.Duration(attempt-1)
			select {
			case <-ctx.Done():
				return nil, domain.NewExhaustedError("search cancelled during backoff", ctx.Err())
			case <-time.After(delay):
			}
		}

		results, err := c.do(ctx, text, maxResults)
		if err == nil {
			return results, nil
		}
		if !domain.IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		c.logger.Warn("upstream attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
	}

	c.logger.Error("upstream retries exhausted", zap.Int("attempts", attempts), zap.Error(lastErr))
	return nil, domain.NewExhaustedError(fmt.Sprintf("search failed after %d attempts", attempts), lastErr)
}

// do performs a single HTTP attempt and classifies its outcome
func (c *Client) do(ctx context.Context, text string, maxResults int) ([]domain.RawResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL(text, maxResults), nil)
	if err != nil {
		return nil, domain.NewConfigurationError(fmt.Sprintf("invalid upstream URL: %v", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstreamCall(metrics.OutcomeTransient, time.Since(start))
		return nil, domain.NewTransientError("request failed", redactKey(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordUpstreamCall(metrics.OutcomeTransient, elapsed)
		return nil, domain.NewTransientError("failed to read response", err)
	}

	var parsed searchResponse
	decodeErr := json.Unmarshal(body, &parsed)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.RecordUpstreamCall(metrics.OutcomeConfig, elapsed)
		return nil, domain.NewConfigurationError(fmt.Sprintf("provider rejected credentials (status %d)", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RecordUpstreamCall(metrics.OutcomeRateLimited, elapsed)
		return nil, domain.NewRateLimitError("provider throttled the request", statusError(resp.StatusCode, parsed.Error))
	case resp.StatusCode >= 500:
		metrics.RecordUpstreamCall(metrics.OutcomeTransient, elapsed)
		return nil, domain.NewTransientError("provider error", statusError(resp.StatusCode, parsed.Error))
	case resp.StatusCode != http.StatusOK:
		metrics.RecordUpstreamCall(metrics.OutcomeRejected, elapsed)
		return nil, domain.NewExhaustedError("provider rejected the request", statusError(resp.StatusCode, parsed.Error))
	}

	if decodeErr != nil {
		metrics.RecordUpstreamCall(metrics.OutcomeTransient, elapsed)
		return nil, domain.NewTransientError("malformed provider response", decodeErr)
	}

	if parsed.Error != "" {
		err := classifyProviderError(parsed.Error)
		if err == nil {
			metrics.RecordUpstreamCall(metrics.OutcomeSuccess, elapsed)
			return []domain.RawResult{}, nil
		}
		metrics.RecordUpstreamCall(outcomeOf(err), elapsed)
		return nil, err
	}

	metrics.RecordUpstreamCall(metrics.OutcomeSuccess, elapsed)
	return c.collect(parsed), nil
}

func (c *Client) searchURL(text string, maxResults int) string {
	num := maxResults * overfetchFactor
	if num <= 0 || num > maxRequested {
		num = maxRequested
	}

	params := url.Values{}
	params.Set("engine", c.opts.Engine)
	params.Set("q", text)
	params.Set("num", strconv.Itoa(num))
	params.Set("api_key", c.opts.APIKey)
	if c.opts.Country != "" {
		params.Set("gl", c.opts.Country)
	}
	if c.opts.Language != "" {
		params.Set("hl", c.opts.Language)
	}
	if c.opts.Device != "" {
		params.Set("device", c.opts.Device)
	}

	return c.opts.BaseURL + "?" + params.Encode()
}

// searchResponse keeps each result raw so one malformed entry does not
// poison the whole batch
type searchResponse struct {
	Error                 string            `json:"error"`
	ShoppingResults       []json.RawMessage `json:"shopping_results"`
	InlineShoppingResults []json.RawMessage `json:"inline_shopping_results"`
}

func (c *Client) collect(parsed searchResponse) []domain.RawResult {
	results := make([]domain.RawResult, 0, len(parsed.ShoppingResults)+len(parsed.InlineShoppingResults))
	skipped := 0

	for _, group := range [][]json.RawMessage{parsed.ShoppingResults, parsed.InlineShoppingResults} {
		for _, raw := range group {
			var r domain.RawResult
			if err := json.Unmarshal(raw, &r); err != nil {
				skipped++
				continue
			}
			results = append(results, r)
		}
	}

	if skipped > 0 {
		c.logger.Debug("skipped malformed upstream results", zap.Int("skipped", skipped))
	}
	return results
}

// classifyProviderError maps an error message in a 200 body to a kind.
// A nil return means the provider simply found nothing.
func classifyProviderError(message string) error {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "returned any results"):
		return nil
	case strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "run out of searches"):
		return domain.NewRateLimitError("provider throttled the request", errors.New(message))
	case strings.Contains(lower, "api key") || strings.Contains(lower, "api_key"):
		return domain.NewConfigurationError("provider rejected credentials: " + message)
	}
	return domain.NewTransientError("provider error", errors.New(message))
}

func outcomeOf(err error) string {
	switch domain.KindOf(err) {
	case domain.KindRateLimited:
		return metrics.OutcomeRateLimited
	case domain.KindConfiguration:
		return metrics.OutcomeConfig
	case domain.KindTransient:
		return metrics.OutcomeTransient
	}
	return metrics.OutcomeRejected
}

func statusError(status int, message string) error {
	if message != "" {
		return fmt.Errorf("status %d: %s", status, message)
	}
	return fmt.Errorf("status %d", status)
}

// redactKey strips the request URL, which carries the API key, from transport errors
func redactKey(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

// Ensure Client implements the interface
var _ Searcher = (*Client)(nil)
