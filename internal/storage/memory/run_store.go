// Package memory provides in-process implementations of the run and result
// stores. Cross-restart persistence is intentionally out of scope.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/speedindex/pageaudit/internal/audit"
)

// RunStore is the authoritative in-memory record of every run. The scheduler
// is the only writer; status queries interleave safely with it.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]audit.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]audit.Run),
	}
}

// CreateRun stores a new run. Run IDs are unique for the process lifetime,
// so an existing entry indicates a scheduler bug.
func (s *RunStore) CreateRun(_ context.Context, run audit.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return audit.ErrRunExists
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (audit.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return audit.Run{}, audit.ErrRunNotFound
	}
	return run, nil
}

// UpdateRunStatus advances the run lifecycle. Transitions only move forward;
// an update against a terminal run fails with ErrRunTerminal, which the
// scheduler relies on for its exactly-once terminal handling.
func (s *RunStore) UpdateRunStatus(_ context.Context, runID string, status audit.RunStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return audit.ErrRunNotFound
	}
	if run.Status.Terminal() {
		return audit.ErrRunTerminal
	}
	if status == audit.RunStatusQueued && run.Status == audit.RunStatusRunning {
		// Running never falls back to queued.
		return nil
	}
	run.Status = status
	run.ErrorText = errText
	if status.Terminal() {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	s.runs[runID] = run
	return nil
}
