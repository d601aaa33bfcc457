package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Default search options
const (
	DefaultFastTTL    = 3600 // seconds
	DefaultDurableTTL = 3    // days
	DefaultMaxResults = 20
	DefaultCategory   = "general"
)

// Source identifies the tier a response was served from
type Source string

const (
	SourceFast     Source = "fast"
	SourceDurable  Source = "durable"
	SourceUpstream Source = "upstream"
	SourceNone     Source = "none"
)

// Options carries per-request overrides for a search
type Options struct {
	FastTTL    int  `json:"fast_ttl"`    // seconds
	DurableTTL int  `json:"durable_ttl"` // days
	MaxResults int  `json:"max_results"`
	Force      bool `json:"force,omitempty"` // skip cache reads and refetch from upstream
}

// DefaultOptions returns the default search options
func DefaultOptions() Options {
	return Options{
		FastTTL:    DefaultFastTTL,
		DurableTTL: DefaultDurableTTL,
		MaxResults: DefaultMaxResults,
	}
}

// withDefaults fills in zero or negative values with the defaults
func (o Options) withDefaults() Options {
	if o.FastTTL <= 0 {
		o.FastTTL = DefaultFastTTL
	}
	if o.DurableTTL <= 0 {
		o.DurableTTL = DefaultDurableTTL
	}
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	return o
}

// FastTTLDuration returns the fast tier TTL as a duration
func (o Options) FastTTLDuration() time.Duration {
	return time.Duration(o.FastTTL) * time.Second
}

// SearchQuery is an immutable search request value
type SearchQuery struct {
	rawText  string
	category string
	options  Options
}

// NewSearchQuery creates a search query, applying option defaults
func NewSearchQuery(rawText, category string, options Options) SearchQuery {
	return SearchQuery{
		rawText:  rawText,
		category: category,
		options:  options.withDefaults(),
	}
}

// RawText returns the query text as received
func (q SearchQuery) RawText() string { return q.rawText }

// Category returns the requested category
func (q SearchQuery) Category() string { return q.category }

// Options returns the effective options
func (q SearchQuery) Options() Options { return q.options }

// Product is the canonical unit of a search result
type Product struct {
	ExternalID            string           `json:"external_id"`
	Title                 string           `json:"title"`
	TitleTranslated       string           `json:"title_translated,omitempty"`
	Description           string           `json:"description,omitempty"`
	DescriptionTranslated string           `json:"description_translated,omitempty"`
	Price                 decimal.Decimal  `json:"price"`
	OriginalPrice         *decimal.Decimal `json:"original_price,omitempty"`
	PriceSynthetic        bool             `json:"price_synthetic,omitempty"`
	Currency              string           `json:"currency"`
	ImageURL              string           `json:"image_url,omitempty"`
	MerchantLink          string           `json:"merchant_link"`
	Source                string           `json:"source,omitempty"`
	Rating                float64          `json:"rating"`
	ReviewCount           int              `json:"review_count"`
	Category              string           `json:"category"`
	CreatedAt             *time.Time       `json:"created_at,omitempty"`
	ExpiresAt             *time.Time       `json:"expires_at,omitempty"`
}

// WithoutTimestamps returns a copy of the product with durable-tier timestamps cleared
func (p Product) WithoutTimestamps() Product {
	p.CreatedAt = nil
	p.ExpiresAt = nil
	return p
}

// RawResult is a single heterogeneous result from the upstream provider.
// Every field is optional; pointer fields distinguish absent from zero.
type RawResult struct {
	ProductID         string   `json:"product_id,omitempty"`
	Position          int      `json:"position,omitempty"`
	Title             string   `json:"title,omitempty"`
	Snippet           string   `json:"snippet,omitempty"`
	MerchantLink      string   `json:"merchant_link,omitempty"`
	SourceLink        string   `json:"source_link,omitempty"`
	Link              string   `json:"link,omitempty"`
	ProductLink       string   `json:"product_link,omitempty"`
	Source            string   `json:"source,omitempty"`
	Price             string   `json:"price,omitempty"`
	ExtractedPrice    *float64 `json:"extracted_price,omitempty"`
	OldPrice          string   `json:"old_price,omitempty"`
	ExtractedOldPrice *float64 `json:"extracted_old_price,omitempty"`
	Currency          string   `json:"currency,omitempty"`
	Rating            *float64 `json:"rating,omitempty"`
	Reviews           *int     `json:"reviews,omitempty"`
	Thumbnail         string   `json:"thumbnail,omitempty"`
}

// SearchResponse is the structured answer for every orchestrated search
type SearchResponse struct {
	Products  []Product `json:"products"`
	Source    Source    `json:"source"`
	Count     int       `json:"count"`
	Category  string    `json:"category"`
	Query     string    `json:"query"`
	CacheKey  string    `json:"cache_key"`
	Error     string    `json:"error,omitempty"`
	ErrorCode ErrorKind `json:"error_code,omitempty"`
}

// TierStats describes the contents of a single cache tier
type TierStats struct {
	Entries    int64            `json:"entries"`
	Expired    int64            `json:"expired,omitempty"`
	Categories map[string]int64 `json:"categories"`
}

// CacheStats aggregates stats for both tiers
type CacheStats struct {
	Fast         *TierStats `json:"fast,omitempty"`
	Durable      *TierStats `json:"durable,omitempty"`
	FastError    string     `json:"fast_error,omitempty"`
	DurableError string     `json:"durable_error,omitempty"`
}

// Tier names accepted by clear operations
const (
	TierFast    = "fast"
	TierDurable = "durable"
	TierAll     = "all"
)

// ClearResult reports how many entries a clear removed per tier
type ClearResult struct {
	Tier           string `json:"tier"`
	Category       string `json:"category,omitempty"`
	FastRemoved    int    `json:"fast_removed"`
	DurableRemoved int64  `json:"durable_removed"`
}

// LookupFilter selects durable-tier products by substring or regular expression
type LookupFilter struct {
	Match   string `json:"match,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// TrackedQuery is a previously served category and query combination
type TrackedQuery struct {
	Category string    `json:"category"`
	Query    string    `json:"query"`
	Hits     int       `json:"hits"`
	LastSeen time.Time `json:"last_seen"`
}

// SearchEvent describes a served search for downstream analytics
type SearchEvent struct {
	CacheKey   string    `json:"cache_key"`
	Category   string    `json:"category"`
	Query      string    `json:"query"`
	Source     Source    `json:"source"`
	Count      int       `json:"count"`
	ErrorCode  ErrorKind `json:"error_code,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}
