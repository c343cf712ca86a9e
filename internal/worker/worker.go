// Package worker implements the audit execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/speedindex/pageaudit/internal/audit"
	"github.com/speedindex/pageaudit/internal/scheduler"
)

// Config controls Worker behavior.
type Config struct {
	RunTimeout time.Duration
}

// Worker consumes queued runs and drives the collector. Every dequeued job
// is guaranteed a terminal report: collector errors, panics and timeouts all
// funnel into the scheduler's Fail handler so no admission slot leaks.
type Worker struct {
	queue     audit.Queue
	scheduler *scheduler.Scheduler
	collector audit.Collector
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue audit.Queue,
	sched *scheduler.Scheduler,
	collector audit.Collector,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	return &Worker{
		queue:     queue,
		scheduler: sched,
		collector: collector,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, audit.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job audit.Job) {
	// Terminal reporting uses a fresh context: a canceled worker context
	// must not prevent the run table write that frees the slot.
	reportCtx := context.Background()

	w.scheduler.MarkRunning(reportCtx, job.RunID)
	w.logger.Debug("run started", zap.String("run_id", job.RunID), zap.String("url", job.Params.URL))

	artifact, err := w.collect(ctx, job)
	if err != nil {
		w.logger.Error("run execution failed",
			zap.String("run_id", job.RunID),
			zap.String("url", job.Params.URL),
			zap.Error(err),
		)
		w.scheduler.Fail(reportCtx, job.RunID, err)
		return
	}
	w.scheduler.Complete(reportCtx, job.RunID, artifact)
}

// collect runs the collector under the run timeout and converts panics into
// ordinary errors.
func (w *Worker) collect(ctx context.Context, job audit.Job) (artifact audit.Artifact, err error) {
	runCtx, cancel := context.WithTimeout(ctx, w.cfg.RunTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("collector panic: %v", rec)
		}
	}()

	artifact, err = w.collector.Collect(runCtx, job)
	if err != nil {
		return audit.Artifact{}, fmt.Errorf("collect: %w", err)
	}
	return artifact, nil
}
