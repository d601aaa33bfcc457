// Package translate provides best-effort text translation.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the Google Cloud Translation v2 endpoint
const DefaultBaseURL = "https://translation.googleapis.com/language/translate/v2"

// Translator translates text between languages. Callers keep the source
// text when Translate fails.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Identity returns text unchanged. It stands in when no credential is configured.
type Identity struct{}

// Translate returns text unchanged
func (Identity) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

// Options configures the Google translation client
type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// New returns a Google client, or Identity when no API key is set
func New(opts Options, logger *zap.Logger) Translator {
	if opts.APIKey == "" {
		logger.Info("translation API key not set, titles will not be translated")
		return Identity{}
	}
	return NewGoogleClient(opts, logger)
}

// GoogleClient calls the Google Cloud Translation v2 REST API
type GoogleClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGoogleClient creates a Google translation client
func NewGoogleClient(opts Options, logger *zap.Logger) *GoogleClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &GoogleClient{
		apiKey:     opts.APIKey,
		baseURL:    opts.BaseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger.Named("translate"),
	}
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Format string `json:"format"`
}

type translateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Translate translates text from source to target. An empty source lets the API detect it.
func (c *GoogleClient) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" || (source != "" && source == target) {
		return text, nil
	}

	payload, err := json.Marshal(translateRequest{Q: text, Source: source, Target: target, Format: "text"})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error would echo the key-bearing endpoint
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	defer resp.Body.Close()

	var result translateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode translation (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if result.Error != nil {
			return "", fmt.Errorf("translation service returned status %d: %s", resp.StatusCode, result.Error.Message)
		}
		return "", fmt.Errorf("translation service returned status %d", resp.StatusCode)
	}

	if len(result.Data.Translations) == 0 {
		return "", fmt.Errorf("translation service returned no translations")
	}

	return html.UnescapeString(result.Data.Translations[0].TranslatedText), nil
}
