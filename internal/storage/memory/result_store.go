package memory

import (
	"context"
	"sync"
	"time"

	"github.com/speedindex/pageaudit/internal/audit"
)

// ResultStore holds finished artifacts keyed by run ID. Entries are written
// once by the scheduler's completion handler and never mutated. A non-zero
// TTL bounds memory by evicting aged results.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]storedResult
	ttl     time.Duration
	stop    chan struct{}
	stopped sync.Once
}

type storedResult struct {
	result  audit.Result
	written time.Time
}

// NewResultStore constructs a ResultStore. A zero TTL keeps results for the
// process lifetime.
func NewResultStore(ttl time.Duration) *ResultStore {
	s := &ResultStore{
		results: make(map[string]storedResult),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	if ttl > 0 {
		go s.sweep()
	}
	return s
}

// Put stores the result for a run. A second write for the same run ID fails;
// results are immutable once created.
func (s *ResultStore) Put(_ context.Context, result audit.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[result.RunID]; exists {
		return audit.ErrResultExists
	}
	s.results[result.RunID] = storedResult{result: result, written: time.Now().UTC()}
	return nil
}

// Get fetches the result for a run ID.
func (s *ResultStore) Get(_ context.Context, runID string) (audit.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.results[runID]
	if !ok {
		return audit.Result{}, audit.ErrResultNotFound
	}
	return stored.result, nil
}

// Close stops the eviction sweeper.
func (s *ResultStore) Close() {
	s.stopped.Do(func() {
		close(s.stop)
	})
}

func (s *ResultStore) sweep() {
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *ResultStore) evictExpired() {
	cutoff := time.Now().UTC().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for runID, stored := range s.results {
		if stored.written.Before(cutoff) {
			delete(s.results, runID)
		}
	}
}
