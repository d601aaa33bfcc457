// Package tracker counts served searches in memory and writes them back
// to the durable tier in batches.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	flushTimeout = 5 * time.Second
	closeTimeout = 30 * time.Second
)

// Store persists accumulated hits
type Store interface {
	TrackQuery(ctx context.Context, category, query string, hits int, lastSeen time.Time) error
}

type entryKey struct {
	category string
	query    string
}

type hitEntry struct {
	hits     int
	lastSeen time.Time
}

// HitTracker buffers per-query hit counts with periodic writeback
type HitTracker struct {
	mu       sync.Mutex
	store    Store
	pending  map[entryKey]*hitEntry
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a tracker and starts its writeback worker
func New(store Store, interval time.Duration, logger *zap.Logger) *HitTracker {
	if interval <= 0 {
		interval = time.Minute
	}

	t := &HitTracker{
		store:    store,
		pending:  make(map[entryKey]*hitEntry),
		interval: interval,
		logger:   logger.Named("tracker"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	t.wg.Add(1)
	go t.writebackWorker()

	return t
}

// Record counts one hit for a category and query. It never blocks on I/O.
func (t *HitTracker) Record(category, query string) {
	if query == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := entryKey{category: category, query: query}
	entry, ok := t.pending[key]
	if !ok {
		entry = &hitEntry{}
		t.pending[key] = entry
	}
	entry.hits++
	entry.lastSeen = t.now().UTC()
}

// Pending returns the number of combinations waiting for writeback
func (t *HitTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Flush writes all buffered hits. Entries that fail to write are kept for the next flush.
func (t *HitTracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	batch := t.pending
	t.pending = make(map[entryKey]*hitEntry)
	t.mu.Unlock()

	var errs []error
	failed := make(map[entryKey]*hitEntry)
	for key, entry := range batch {
		if err := t.store.TrackQuery(ctx, key.category, key.query, entry.hits, entry.lastSeen); err != nil {
			failed[key] = entry
			errs = append(errs, err)
		}
	}

	if len(failed) > 0 {
		t.requeue(failed)
		return fmt.Errorf("failed to write %d of %d tracked queries: %w", len(failed), len(batch), errors.Join(errs...))
	}
	return nil
}

func (t *HitTracker) requeue(failed map[entryKey]*hitEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, old := range failed {
		entry, ok := t.pending[key]
		if !ok {
			t.pending[key] = old
			continue
		}
		entry.hits += old.hits
		if old.lastSeen.After(entry.lastSeen) {
			entry.lastSeen = old.lastSeen
		}
	}
}

func (t *HitTracker) writebackWorker() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := t.Flush(ctx); err != nil {
				t.logger.Warn("tracked query writeback failed", zap.Error(err))
			}
			cancel()
		case <-t.stopCh:
			return
		}
	}
}

// Close stops the worker and flushes whatever is still buffered
func (t *HitTracker) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopCh)
		t.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		err = t.Flush(ctx)
	})
	return err
}
