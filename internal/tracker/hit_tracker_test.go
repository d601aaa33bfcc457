package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type trackedWrite struct {
	hits     int
	lastSeen time.Time
}

type fakeStore struct {
	mu     sync.Mutex
	writes map[string]trackedWrite
	fail   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{writes: make(map[string]trackedWrite)}
}

func (s *fakeStore) TrackQuery(_ context.Context, category, query string, hits int, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("database is locked")
	}
	key := category + ":" + query
	w := s.writes[key]
	w.hits += hits
	w.lastSeen = lastSeen
	s.writes[key] = w
	return nil
}

func (s *fakeStore) get(key string) trackedWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[key]
}

func (s *fakeStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func TestHitTracker_FlushAggregates(t *testing.T) {
	store := newFakeStore()
	tr := New(store, time.Hour, zap.NewNop())
	defer tr.Close()

	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.Record("fashion", "jeans")
	tr.Record("fashion", "jeans")
	tr.Record("electronics", "laptop")
	tr.Record("fashion", "")
	assert.Equal(t, 2, tr.Pending())

	require.NoError(t, tr.Flush(context.Background()))
	assert.Equal(t, 0, tr.Pending())

	assert.Equal(t, trackedWrite{hits: 2, lastSeen: fixed}, store.get("fashion:jeans"))
	assert.Equal(t, 1, store.get("electronics:laptop").hits)
}

func TestHitTracker_FailedFlushIsRetained(t *testing.T) {
	store := newFakeStore()
	tr := New(store, time.Hour, zap.NewNop())
	defer tr.Close()

	tr.Record("fashion", "jeans")
	store.setFail(true)

	err := tr.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write 1 of 1")
	assert.Equal(t, 1, tr.Pending())

	// Hits recorded meanwhile merge with the retained entry
	tr.Record("fashion", "jeans")
	store.setFail(false)
	require.NoError(t, tr.Flush(context.Background()))
	assert.Equal(t, 2, store.get("fashion:jeans").hits)
}

func TestHitTracker_BackgroundWriteback(t *testing.T) {
	store := newFakeStore()
	tr := New(store, 10*time.Millisecond, zap.NewNop())
	defer tr.Close()

	tr.Record("home", "lamp")

	assert.Eventually(t, func() bool {
		return store.get("home:lamp").hits == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHitTracker_CloseFlushes(t *testing.T) {
	store := newFakeStore()
	tr := New(store, time.Hour, zap.NewNop())

	tr.Record("fashion", "shirt")
	require.NoError(t, tr.Close())
	assert.Equal(t, 1, store.get("fashion:shirt").hits)

	// Closing twice is safe
	assert.NoError(t, tr.Close())
}

func TestHitTracker_ConcurrentRecord(t *testing.T) {
	store := newFakeStore()
	tr := New(store, time.Hour, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Record("fashion", fmt.Sprintf("q%d", id%2))
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, tr.Close())
	assert.Equal(t, 500, store.get("fashion:q0").hits)
	assert.Equal(t, 500, store.get("fashion:q1").hits)
}
