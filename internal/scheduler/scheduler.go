// Package scheduler orchestrates run creation, dispatch and lifecycle
// transitions. It is the only writer of the run table and the result store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/speedindex/pageaudit/internal/admission"
	"github.com/speedindex/pageaudit/internal/audit"
	"github.com/speedindex/pageaudit/internal/metrics"
)

// Outcome is delivered to synchronous-mode waiters when their run reaches a
// terminal state.
type Outcome struct {
	Status    audit.RunStatus
	ErrorText string
}

// Scheduler tracks every run through queued -> running -> {complete, error}.
// Workers report back through MarkRunning, Complete and Fail; the terminal
// handlers release the admission slot and resolve waiters exactly once,
// keyed off the run store's forward-only transition guard.
type Scheduler struct {
	runs      audit.RunStore
	results   audit.ResultStore
	queue     audit.Queue
	admission *admission.Controller
	idGen     audit.IDGenerator
	clock     audit.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	waiters map[string][]chan Outcome
}

// New constructs a Scheduler.
func New(
	runs audit.RunStore,
	results audit.ResultStore,
	queue audit.Queue,
	admission *admission.Controller,
	idGen audit.IDGenerator,
	clock audit.Clock,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		runs:      runs,
		results:   results,
		queue:     queue,
		admission: admission,
		idGen:     idGen,
		clock:     clock,
		logger:    logger,
		waiters:   make(map[string][]chan Outcome),
	}
}

// CreateRun admits, records and dispatches a new run, returning its ID
// without waiting for execution. ErrQuotaExceeded means no run was created.
func (s *Scheduler) CreateRun(
	ctx context.Context,
	params audit.RunParams,
	caller audit.CallerClass,
	owner string,
) (string, error) {
	if !s.admission.TryAdmit(caller) {
		metrics.ObserveRejection("quota")
		return "", audit.ErrQuotaExceeded
	}

	runID, err := s.idGen.NewID()
	if err != nil {
		s.admission.Release(caller)
		return "", fmt.Errorf("generate run id: %w", err)
	}
	now := s.clock.Now()
	run := audit.Run{
		ID:        runID,
		Params:    params,
		Caller:    caller,
		Owner:     owner,
		Status:    audit.RunStatusQueued,
		CreatedAt: now,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		s.admission.Release(caller)
		return "", fmt.Errorf("create run: %w", err)
	}

	job := audit.Job{
		RunID:     runID,
		Params:    params,
		Submitted: now.Unix(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		// The run exists but can never execute; fail it through the
		// normal terminal path so the slot is freed.
		s.Fail(ctx, runID, fmt.Errorf("enqueue run: %w", err))
		return "", fmt.Errorf("enqueue run: %w", err)
	}

	s.logger.Info("run created",
		zap.String("run_id", runID),
		zap.String("url", params.URL),
		zap.String("caller", string(caller)),
	)
	return runID, nil
}

// MarkRunning records that a worker picked up the run.
func (s *Scheduler) MarkRunning(ctx context.Context, runID string) {
	if err := s.runs.UpdateRunStatus(ctx, runID, audit.RunStatusRunning, ""); err != nil {
		s.logger.Warn("mark running failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// Complete stores the artifact and moves the run to complete. The result is
// written before the status flips so a run observed as complete always has a
// readable result.
func (s *Scheduler) Complete(ctx context.Context, runID string, artifact audit.Artifact) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		s.logger.Error("complete for unknown run", zap.String("run_id", runID), zap.Error(err))
		return
	}
	result := audit.Result{
		RunID:                   runID,
		Params:                  run.Params,
		ScoreProfiles:           artifact.ScoreProfiles,
		Rules:                   artifact.Rules,
		ToolsResults:            artifact.ToolsResults,
		JavascriptExecutionTree: artifact.JavascriptExecutionTree,
	}
	if err := s.results.Put(ctx, result); err != nil && !errors.Is(err, audit.ErrResultExists) {
		s.logger.Error("store result failed", zap.String("run_id", runID), zap.Error(err))
	}
	s.finish(ctx, run, audit.RunStatusComplete, "")
}

// Fail moves the run to error. The admission slot is released regardless of
// what the worker reported.
func (s *Scheduler) Fail(ctx context.Context, runID string, cause error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		s.logger.Error("fail for unknown run", zap.String("run_id", runID), zap.Error(err))
		return
	}
	errText := "execution failed"
	if cause != nil {
		errText = cause.Error()
	}
	s.finish(ctx, run, audit.RunStatusError, errText)
}

// finish performs the terminal transition. The run store rejects a second
// terminal write, so slot release and waiter resolution happen exactly once
// even if completion is reported twice.
func (s *Scheduler) finish(ctx context.Context, run audit.Run, status audit.RunStatus, errText string) {
	if err := s.runs.UpdateRunStatus(ctx, run.ID, status, errText); err != nil {
		if errors.Is(err, audit.ErrRunTerminal) {
			return
		}
		s.logger.Error("terminal transition failed", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	s.admission.Release(run.Caller)
	metrics.ObserveRun(string(status), string(run.Caller), s.clock.Now().Sub(run.CreatedAt))
	s.logger.Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(status)),
	)
	s.notify(run.ID, Outcome{Status: status, ErrorText: errText})
}

// Wait blocks until the run reaches a terminal state or the context ends.
// Only the calling request suspends; runs and other requests proceed freely.
func (s *Scheduler) Wait(ctx context.Context, runID string) (Outcome, error) {
	ch := make(chan Outcome, 1)

	s.mu.Lock()
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		s.mu.Unlock()
		return Outcome{}, err
	}
	if run.Status.Terminal() {
		s.mu.Unlock()
		return Outcome{Status: run.Status, ErrorText: run.ErrorText}, nil
	}
	s.waiters[runID] = append(s.waiters[runID], ch)
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		s.removeWaiter(runID, ch)
		return Outcome{}, fmt.Errorf("wait for run: %w", ctx.Err())
	case outcome := <-ch:
		return outcome, nil
	}
}

// Status returns the run record for a run ID.
func (s *Scheduler) Status(ctx context.Context, runID string) (audit.Run, error) {
	return s.runs.GetRun(ctx, runID)
}

// Result returns the finished artifact. Unknown runs and runs that have not
// completed are both reported as ErrResultNotFound.
func (s *Scheduler) Result(ctx context.Context, runID string) (audit.Result, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return audit.Result{}, audit.ErrResultNotFound
	}
	if run.Status != audit.RunStatusComplete {
		return audit.Result{}, audit.ErrResultNotFound
	}
	return s.results.Get(ctx, runID)
}

func (s *Scheduler) notify(runID string, outcome Outcome) {
	s.mu.Lock()
	pending := s.waiters[runID]
	delete(s.waiters, runID)
	s.mu.Unlock()
	for _, ch := range pending {
		ch <- outcome
	}
}

func (s *Scheduler) removeWaiter(runID string, ch chan Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.waiters[runID]
	for i, candidate := range pending {
		if candidate == ch {
			s.waiters[runID] = append(pending[:i], pending[i+1:]...)
			break
		}
	}
	if len(s.waiters[runID]) == 0 {
		delete(s.waiters, runID)
	}
}
