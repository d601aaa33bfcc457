// Package refresh keeps the durable tier warm for frequently served queries.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joshdurbin/product-cache/internal/domain"
	"github.com/joshdurbin/product-cache/internal/service"
)

// Store lists tracked queries and purges expired products
type Store interface {
	TopQueries(ctx context.Context, limit int) ([]domain.TrackedQuery, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// Options bounds each refresh round
type Options struct {
	// Limit is the number of top queries refreshed per round
	Limit int
	// MaxResults is requested for every refreshed query
	MaxResults int
	// RoundTimeout bounds a whole round
	RoundTimeout time.Duration
}

// DefaultOptions returns the default refresh options
func DefaultOptions() Options {
	return Options{
		Limit:        20,
		MaxResults:   domain.DefaultMaxResults,
		RoundTimeout: 5 * time.Minute,
	}
}

// Result summarizes one refresh round
type Result struct {
	Refreshed int
	Failed    int
	Skipped   int
	Purged    int64
}

// Job periodically re-fetches the most served queries, bypassing both caches
type Job struct {
	search service.ProductSearch
	store  Store
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a refresh job
func New(search service.ProductSearch, store Store, opts Options, logger *zap.Logger) *Job {
	defaults := DefaultOptions()
	if opts.Limit <= 0 {
		opts.Limit = defaults.Limit
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaults.MaxResults
	}
	if opts.RoundTimeout <= 0 {
		opts.RoundTimeout = defaults.RoundTimeout
	}

	return &Job{
		search: search,
		store:  store,
		opts:   opts,
		logger: logger.Named("refresh"),
	}
}

// Start runs a round every interval until Stop is called or ctx ends
func (j *Job) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", interval)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})

	j.wg.Add(1)
	go j.loop(ctx, interval, j.stopCh)

	j.logger.Info("refresh job started", zap.Duration("interval", interval), zap.Int("limit", j.opts.Limit))
	return nil
}

// Stop halts the loop and waits for an in-progress round to finish
func (j *Job) Stop() error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	close(j.stopCh)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("refresh job stopped")
	return nil
}

func (j *Job) loop(ctx context.Context, interval time.Duration, stopCh <-chan struct{}) {
	defer j.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error("refresh round failed", zap.Error(err))
			}
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce refreshes the top tracked queries, then purges expired products.
// A configuration or rate limit failure ends the round early.
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, j.opts.RoundTimeout)
	defer cancel()

	var result Result

	queries, err := j.store.TopQueries(ctx, j.opts.Limit)
	if err != nil {
		return result, fmt.Errorf("failed to list tracked queries: %w", err)
	}

	for i, q := range queries {
		if ctx.Err() != nil {
			result.Skipped += len(queries) - i
			break
		}

		resp := j.search.GetProducts(ctx, domain.NewSearchQuery(q.Query, q.Category, domain.Options{
			MaxResults: j.opts.MaxResults,
			Force:      true,
		}))

		if resp.ErrorCode == "" {
			result.Refreshed++
			continue
		}

		result.Failed++
		j.logger.Warn("refresh failed",
			zap.String("key", resp.CacheKey),
			zap.String("code", string(resp.ErrorCode)),
			zap.String("error", resp.Error))

		if resp.ErrorCode == domain.KindConfiguration || resp.ErrorCode == domain.KindRateLimited {
			result.Skipped += len(queries) - i - 1
			break
		}
	}

	purged, purgeErr := j.store.PurgeExpired(ctx)
	result.Purged = purged
	if purgeErr != nil {
		purgeErr = fmt.Errorf("failed to purge expired products: %w", purgeErr)
	}

	j.logger.Info("refresh round finished",
		zap.Int("refreshed", result.Refreshed),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Int64("purged", result.Purged))

	return result, purgeErr
}
