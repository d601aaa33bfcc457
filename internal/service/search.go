package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joshdurbin/product-cache/internal/cache"
	"github.com/joshdurbin/product-cache/internal/cachekey"
	"github.com/joshdurbin/product-cache/internal/domain"
	"github.com/joshdurbin/product-cache/internal/enrich"
	"github.com/joshdurbin/product-cache/internal/events"
	"github.com/joshdurbin/product-cache/internal/metrics"
	"github.com/joshdurbin/product-cache/internal/repository"
	"github.com/joshdurbin/product-cache/internal/upstream"
)

// Config tunes the orchestrator
type Config struct {
	// MinCoverage is the number of live durable products a key needs to skip upstream.
	// It is capped by the request's max results.
	MinCoverage int

	// UpstreamTimeout bounds a single upstream fetch, retries included
	UpstreamTimeout time.Duration

	// PersistTimeout bounds the write-through to both tiers
	PersistTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		MinCoverage:     5,
		UpstreamTimeout: 20 * time.Second,
		PersistTimeout:  5 * time.Second,
	}
}

// Option configures optional collaborators
type Option func(*productSearch)

// WithPublisher emits a search event for every response
func WithPublisher(p events.Publisher) Option {
	return func(s *productSearch) {
		if p != nil {
			s.events = p
		}
	}
}

// WithRecorder counts every unforced response that carried products
func WithRecorder(r Recorder) Option {
	return func(s *productSearch) {
		if r != nil {
			s.recorder = r
		}
	}
}

// productSearch implements ProductSearch
type productSearch struct {
	fast     cache.Cache
	durable  repository.ProductRepository
	searcher upstream.Searcher
	pipeline *enrich.Pipeline
	events   events.Publisher
	recorder Recorder
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	inflight singleflight.Group
}

// NewProductSearch creates the cache orchestrator
func NewProductSearch(fast cache.Cache, durable repository.ProductRepository, searcher upstream.Searcher,
	pipeline *enrich.Pipeline, cfg Config, logger *zap.Logger, opts ...Option) ProductSearch {
	defaults := DefaultConfig()
	if cfg.MinCoverage <= 0 {
		cfg.MinCoverage = defaults.MinCoverage
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = defaults.UpstreamTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaults.PersistTimeout
	}

	s := &productSearch{
		fast:     fast,
		durable:  durable,
		searcher: searcher,
		pipeline: pipeline,
		events:   events.Noop{},
		recorder: noopRecorder{},
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// request carries the resolved identity of one orchestrated search
type request struct {
	query    domain.SearchQuery
	opts     domain.Options
	key      string
	category string
	text     string
	started  time.Time
}

// GetProducts walks fast, durable and upstream in that order and answers
// from the first tier that satisfies the query
func (s *productSearch) GetProducts(ctx context.Context, query domain.SearchQuery) *domain.SearchResponse {
	req := request{
		query:    query,
		opts:     query.Options(),
		key:      cachekey.BuildKey(query.Category(), query.RawText()),
		category: cachekey.NormalizeCategory(query.Category()),
		text:     cachekey.Normalize(query.RawText()),
		started:  s.now(),
	}

	if req.text == "" {
		return s.respondError(ctx, req, domain.NewInvalidQueryError("query text is empty"))
	}

	if !req.opts.Force {
		if products, ok := s.checkFast(ctx, req); ok {
			return s.respond(ctx, req, products, domain.SourceFast)
		}
		if products, ok := s.checkDurable(ctx, req); ok {
			return s.respond(ctx, req, products, domain.SourceDurable)
		}
	}

	products, err := s.fetch(ctx, req)
	if err != nil {
		return s.respondError(ctx, req, err)
	}
	return s.respond(ctx, req, products, domain.SourceUpstream)
}

func (s *productSearch) checkFast(ctx context.Context, req request) ([]domain.Product, bool) {
	products, ok := s.fast.Get(ctx, req.key)
	if !ok || len(products) == 0 {
		return nil, false
	}
	return limit(products, req.opts.MaxResults), true
}

// checkDurable serves the key from the durable tier when it has enough live
// products, populating the fast tier on the way out. Read failures count as a miss.
func (s *productSearch) checkDurable(ctx context.Context, req request) ([]domain.Product, bool) {
	minCount := min(s.cfg.MinCoverage, req.opts.MaxResults)

	covered, err := s.durable.HasSufficientCoverage(ctx, req.key, minCount)
	if err != nil {
		s.tierFailure(domain.TierDurable, "coverage", req.key, err)
		return nil, false
	}
	if !covered {
		return nil, false
	}

	products, err := s.durable.Query(ctx, req.key, req.opts.MaxResults)
	if err != nil {
		s.tierFailure(domain.TierDurable, "query", req.key, err)
		return nil, false
	}
	if len(products) == 0 {
		return nil, false
	}

	if err := s.fast.Set(ctx, req.key, products, req.opts.FastTTLDuration()); err != nil {
		s.tierFailure(domain.TierFast, "set", req.key, err)
	}
	return products, true
}

// fetch runs one upstream search per key at a time. Concurrent callers for the
// same key wait on the in-flight fetch; each stops waiting when its own ctx ends.
// A joining caller gets the leader's result cut to its own max results; the
// leader's upstream size and TTLs apply to what is persisted.
func (s *productSearch) fetch(ctx context.Context, req request) ([]domain.Product, error) {
	ch := s.inflight.DoChan(req.key, func() (interface{}, error) {
		return s.fetchAndPersist(context.WithoutCancel(ctx), req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return limit(res.Val.([]domain.Product), req.opts.MaxResults), nil
	case <-ctx.Done():
		return nil, domain.NewExhaustedError("request ended before the search provider answered", ctx.Err())
	}
}

// fetchAndPersist is the upstream, enrich and write-through leg of a search
func (s *productSearch) fetchAndPersist(ctx context.Context, req request) ([]domain.Product, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	defer cancel()

	raws, err := s.searcher.Search(fetchCtx, strings.TrimSpace(req.query.RawText()), req.category, req.opts.MaxResults)
	if err != nil {
		return nil, err
	}

	products, report := s.pipeline.Process(fetchCtx, raws, req.key, req.opts.MaxResults)
	if len(products) == 0 {
		s.logger.Info("no upstream results survived enrichment",
			zap.String("key", req.key),
			zap.Int("raw", report.Input),
			zap.Any("dropped", report.Dropped))
		return products, nil
	}

	s.persist(ctx, req, products)
	return products, nil
}

// persist writes products through to both tiers. Failures are logged and dropped.
func (s *productSearch) persist(ctx context.Context, req request, products []domain.Product) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()

	if err := s.fast.Set(ctx, req.key, products, req.opts.FastTTLDuration()); err != nil {
		s.tierFailure(domain.TierFast, "set", req.key, err)
	}
	if err := s.durable.Upsert(ctx, products, req.key, req.opts.DurableTTL); err != nil {
		s.tierFailure(domain.TierDurable, "upsert", req.key, err)
	}
}

// limit returns a copy of at most n products
func limit(products []domain.Product, n int) []domain.Product {
	if n > 0 && len(products) > n {
		products = products[:n]
	}
	return append([]domain.Product(nil), products...)
}

func (s *productSearch) tierFailure(tier, op, key string, err error) {
	metrics.RecordTierError(tier, op)
	s.logger.Warn("cache tier failure, degrading",
		zap.String("tier", tier),
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(domain.NewTierError(tier, err)))
}

func (s *productSearch) respond(ctx context.Context, req request, products []domain.Product, source domain.Source) *domain.SearchResponse {
	if products == nil {
		products = []domain.Product{}
	}

	resp := &domain.SearchResponse{
		Products: products,
		Source:   source,
		Count:    len(products),
		Category: req.category,
		Query:    req.query.RawText(),
		CacheKey: req.key,
	}

	// forced refreshes are not demand
	if resp.Count > 0 && !req.opts.Force {
		s.recorder.Record(req.category, strings.TrimSpace(req.query.RawText()))
	}
	s.finish(ctx, req, resp)
	return resp
}

func (s *productSearch) respondError(ctx context.Context, req request, err error) *domain.SearchResponse {
	kind := domain.KindOf(err)
	if kind == "" {
		kind = domain.KindUpstreamExhausted
	}

	s.logger.Error("search failed",
		zap.String("key", req.key),
		zap.String("kind", string(kind)),
		zap.Error(err))

	resp := &domain.SearchResponse{
		Products:  []domain.Product{},
		Source:    domain.SourceNone,
		Category:  req.category,
		Query:     req.query.RawText(),
		CacheKey:  req.key,
		Error:     domain.MessageOf(err),
		ErrorCode: kind,
	}
	s.finish(ctx, req, resp)
	return resp
}

// finish records provenance and publishes the search event
func (s *productSearch) finish(ctx context.Context, req request, resp *domain.SearchResponse) {
	elapsed := s.now().Sub(req.started)
	metrics.RecordResponse(resp.Source)

	s.logger.Debug("served search",
		zap.String("key", req.key),
		zap.String("source", string(resp.Source)),
		zap.Int("count", resp.Count),
		zap.Duration("elapsed", elapsed))

	event := domain.SearchEvent{
		CacheKey:   req.key,
		Category:   req.category,
		Query:      req.query.RawText(),
		Source:     resp.Source,
		Count:      resp.Count,
		ErrorCode:  resp.ErrorCode,
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  s.now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish search event", zap.String("key", req.key), zap.Error(err))
	}
}

// Stats reports both tiers. A tier that cannot be read is reported by name;
// an error is returned only when neither tier answered.
func (s *productSearch) Stats(ctx context.Context) (*domain.CacheStats, error) {
	stats := &domain.CacheStats{}

	fast, fastErr := s.fast.Stats(ctx)
	if fastErr != nil {
		stats.FastError = fastErr.Error()
	} else {
		stats.Fast = fast
	}

	durable, durableErr := s.durable.Stats(ctx)
	if durableErr != nil {
		stats.DurableError = durableErr.Error()
	} else {
		stats.Durable = durable
	}

	if fastErr != nil && durableErr != nil {
		return nil, fmt.Errorf("failed to read cache stats: %w", errors.Join(
			domain.NewTierError(domain.TierFast, fastErr),
			domain.NewTierError(domain.TierDurable, durableErr)))
	}
	return stats, nil
}

// Clear removes entries from the requested tiers
func (s *productSearch) Clear(ctx context.Context, tier, category string) (*domain.ClearResult, error) {
	tier = strings.ToLower(strings.TrimSpace(tier))
	if tier == "" {
		tier = domain.TierAll
	}
	if tier != domain.TierFast && tier != domain.TierDurable && tier != domain.TierAll {
		return nil, domain.NewInvalidQueryError(fmt.Sprintf("unknown tier %q, expected fast, durable or all", tier))
	}

	if strings.TrimSpace(category) != "" {
		category = cachekey.NormalizeCategory(category)
	} else {
		category = ""
	}

	result := &domain.ClearResult{Tier: tier, Category: category}

	if tier == domain.TierFast || tier == domain.TierAll {
		removed, err := s.fast.Clear(ctx, category)
		if err != nil {
			return nil, fmt.Errorf("failed to clear fast tier: %w", domain.NewTierError(domain.TierFast, err))
		}
		result.FastRemoved = removed
	}

	if tier == domain.TierDurable || tier == domain.TierAll {
		var (
			removed int64
			err     error
		)
		if category == "" {
			removed, err = s.durable.DeleteAll(ctx)
		} else {
			removed, err = s.durable.DeleteByCategory(ctx, category)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to clear durable tier: %w", domain.NewTierError(domain.TierDurable, err))
		}
		result.DurableRemoved = removed
	}

	s.logger.Info("cache cleared",
		zap.String("tier", result.Tier),
		zap.String("category", result.Category),
		zap.Int("fast_removed", result.FastRemoved),
		zap.Int64("durable_removed", result.DurableRemoved))

	return result, nil
}

// Lookup finds durable-tier products by substring or pattern. An empty
// filter lists the most recently stored products.
func (s *productSearch) Lookup(ctx context.Context, filter domain.LookupFilter) ([]domain.Product, error) {
	filter.Match = strings.TrimSpace(filter.Match)
	filter.Pattern = strings.TrimSpace(filter.Pattern)

	products, err := s.durable.Lookup(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to look up products: %w", err)
	}
	return products, nil
}

// Close flushes tracked queries and closes every collaborator
func (s *productSearch) Close() error {
	var errs []error
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close recorder: %w", err))
	}
	if err := s.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close publisher: %w", err))
	}
	if err := s.fast.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close fast tier: %w", err))
	}
	if err := s.durable.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close durable tier: %w", err))
	}
	return errors.Join(errs...)
}

type noopRecorder struct{}

func (noopRecorder) Record(category, query string) {}

func (noopRecorder) Close() error { return nil }
