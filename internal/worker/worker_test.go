package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/speedindex/pageaudit/internal/admission"
	"github.com/speedindex/pageaudit/internal/audit"
	"github.com/speedindex/pageaudit/internal/clock/system"
	"github.com/speedindex/pageaudit/internal/collector"
	"github.com/speedindex/pageaudit/internal/id/uuid"
	"github.com/speedindex/pageaudit/internal/metrics"
	queueMemory "github.com/speedindex/pageaudit/internal/queue/memory"
	"github.com/speedindex/pageaudit/internal/scheduler"
	storageMemory "github.com/speedindex/pageaudit/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type panicCollector struct{}

func (panicCollector) Collect(context.Context, audit.Job) (audit.Artifact, error) {
	panic("browser exploded")
}

type harness struct {
	scheduler  *scheduler.Scheduler
	queue      *queueMemory.Queue
	controller *admission.Controller
}

func newHarness(t *testing.T, coll audit.Collector, cfg Config) *harness {
	t.Helper()
	runs := storageMemory.NewRunStore()
	results := storageMemory.NewResultStore(0)
	t.Cleanup(results.Close)
	q := queueMemory.NewQueue(8)
	controller := admission.NewController(10)
	sched := scheduler.New(runs, results, q, controller, uuid.New(), system.New(), zap.NewNop())

	w := New(q, sched, coll, cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	return &harness{scheduler: sched, queue: q, controller: controller}
}

func waitForTerminal(t *testing.T, sched *scheduler.Scheduler, runID string) audit.Run {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		run, err := sched.Status(context.Background(), runID)
		require.NoError(t, err)
		if run.Status.Terminal() {
			return run
		}
		select {
		case <-deadline:
			t.Fatalf("run %s never reached a terminal state (status %s)", runID, run.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWorkerCompletesRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &collector.Fake{}, Config{})
	ctx := context.Background()

	runID, err := h.scheduler.CreateRun(ctx, audit.RunParams{URL: "http://example.com/simple-page.html"}, audit.CallerAnonymous, "")
	require.NoError(t, err)

	run := waitForTerminal(t, h.scheduler, runID)
	require.Equal(t, audit.RunStatusComplete, run.Status)

	result, err := h.scheduler.Result(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, "main", result.JavascriptExecutionTree.Data.Type)
	require.Contains(t, result.ScoreProfiles, "generic")
	require.Equal(t, 0, h.controller.InFlight())
}

func TestWorkerFailureReleasesSlot(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &collector.Fake{Err: errors.New("navigation refused")}, Config{})
	ctx := context.Background()

	runID, err := h.scheduler.CreateRun(ctx, audit.RunParams{URL: "http://example.com/"}, audit.CallerAnonymous, "")
	require.NoError(t, err)

	run := waitForTerminal(t, h.scheduler, runID)
	require.Equal(t, audit.RunStatusError, run.Status)
	require.Contains(t, run.ErrorText, "navigation refused")
	require.Equal(t, 0, h.controller.InFlight())
}

func TestWorkerPanicBecomesError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, panicCollector{}, Config{})
	ctx := context.Background()

	runID, err := h.scheduler.CreateRun(ctx, audit.RunParams{URL: "http://example.com/"}, audit.CallerAnonymous, "")
	require.NoError(t, err)

	run := waitForTerminal(t, h.scheduler, runID)
	require.Equal(t, audit.RunStatusError, run.Status)
	require.Contains(t, run.ErrorText, "collector panic")
	require.Equal(t, 0, h.controller.InFlight())
}

func TestWorkerRunTimeout(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	defer close(gate)

	h := newHarness(t, &collector.Fake{Gate: gate}, Config{RunTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	runID, err := h.scheduler.CreateRun(ctx, audit.RunParams{URL: "http://example.com/"}, audit.CallerAnonymous, "")
	require.NoError(t, err)

	run := waitForTerminal(t, h.scheduler, runID)
	require.Equal(t, audit.RunStatusError, run.Status)
	require.Equal(t, 0, h.controller.InFlight())
}
