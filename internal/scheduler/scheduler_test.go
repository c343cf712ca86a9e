package scheduler

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
	"github.com/speedindex/pageaudit/internal/id/uuid"
	"github.com/speedindex/pageaudit/internal/metrics"
	queueMemory "github.com/speedindex/pageaudit/internal/queue/memory"
	storageMemory "github.com/speedindex/pageaudit/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fixture struct {
	scheduler  *Scheduler
	runs       *storageMemory.RunStore
	results    *storageMemory.ResultStore
	queue      *queueMemory.Queue
	controller *admission.Controller
}

func newFixture(t *testing.T, maxAnonymous int) *fixture {
	t.Helper()
	runs := storageMemory.NewRunStore()
	results := storageMemory.NewResultStore(0)
	t.Cleanup(results.Close)
	q := queueMemory.NewQueue(32)
	controller := admission.NewController(maxAnonymous)
	sched := New(runs, results, q, controller, uuid.New(), system.New(), zap.NewNop())
	return &fixture{
		scheduler:  sched,
		runs:       runs,
		results:    results,
		queue:      q,
		controller: controller,
	}
}

func sampleArtifact() audit.Artifact {
	return audit.Artifact{
		ScoreProfiles: map[string]audit.ScoreProfile{
			"generic": {GlobalScore: 92, Categories: map[string]audit.CategoryScore{}},
		},
		Rules:        map[string]audit.RuleResult{},
		ToolsResults: map[string]audit.ToolResult{"browser": {Metrics: map[string]float64{}}},
		JavascriptExecutionTree: audit.TreeNode{
			Data: audit.TreeNodeData{Type: "main"},
		},
	}
}

func TestCreateRunDispatchesJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	ctx := context.Background()
	params := audit.RunParams{URL: "http://example.com/simple-page.html"}

	runID, err := f.scheduler.CreateRun(ctx, params, audit.CallerAnonymous, "")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	run, err := f.scheduler.Status(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusQueued, run.Status)
	require.Equal(t, "running", run.Status.StatusCode(), "queued runs are reported as running")

	job, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, runID, job.RunID)
	require.Equal(t, params.URL, job.Params.URL)
}

func TestCreateRunQuotaExceeded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()
	params := audit.RunParams{URL: "http://example.com/"}

	first, err := f.scheduler.CreateRun(ctx, params, audit.CallerAnonymous, "")
	require.NoError(t, err)

	_, err = f.scheduler.CreateRun(ctx, params, audit.CallerAnonymous, "")
	require.ErrorIs(t, err, audit.ErrQuotaExceeded)

	// Authenticated callers are never limited by the quota.
	_, err = f.scheduler.CreateRun(ctx, params, audit.CallerAuthenticated, "owner@example.com")
	require.NoError(t, err)

	// A terminal transition frees the anonymous slot.
	f.scheduler.Complete(ctx, first, sampleArtifact())
	_, err = f.scheduler.CreateRun(ctx, params, audit.CallerAnonymous, "")
	require.NoError(t, err)
}

func TestCompleteStoresResultAndReleasesSlot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()
	params := audit.RunParams{URL: "http://example.com/simple-page.html"}

	runID, err := f.scheduler.CreateRun(ctx, params, audit.CallerAnonymous, "")
	require.NoError(t, err)

	// Result gated until terminal.
	_, err = f.scheduler.Result(ctx, runID)
	require.ErrorIs(t, err, audit.ErrResultNotFound)

	f.scheduler.MarkRunning(ctx, runID)
	f.scheduler.Complete(ctx, runID, sampleArtifact())

	run, err := f.scheduler.Status(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusComplete, run.Status)
	require.NotNil(t, run.CompletedAt)

	result, err := f.scheduler.Result(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, runID, result.RunID)
	require.Equal(t, params.URL, result.Params.URL, "result echoes submitted params")
	require.Equal(t, 92, result.ScoreProfiles["generic"].GlobalScore)

	require.Equal(t, 0, f.controller.InFlight())
}

func TestFailReleasesSlotWithoutResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()

	runID, err := f.scheduler.CreateRun(ctx, audit.RunParams{URL: "http://example.com/"}, audit.CallerAnonymous, "")
	require.NoError(t, err)

	f.scheduler.Fail(ctx, runID, errors.New("browser crashed"))

	run, err := f.scheduler.Status(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusError, run.Status)
	require.Equal(t, "browser crashed", run.ErrorText)

	_, err = f.scheduler.Result(ctx, runID)
	require.ErrorIs(t, err, audit.ErrResultNotFound)
	require.Equal(t, 0, f.controller.InFlight())
}

func TestDoubleTerminalReleasesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	ctx := context.Background()

	runID, err := f.scheduler.CreateRun(ctx, audit.RunParams{URL: "http://example.com/"}, audit.CallerAnonymous, "")
	require.NoError(t, err)
	require.Equal(t, 1, f.controller.InFlight())

	f.scheduler.Complete(ctx, runID, sampleArtifact())
	f.scheduler.Fail(ctx, runID, errors.New("late failure"))
	f.scheduler.Complete(ctx, runID, sampleArtifact())

	require.Equal(t, 0, f.controller.InFlight(), "slot released exactly once")

	run, err := f.scheduler.Status(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusComplete, run.Status, "terminal state is immutable")
}

func TestWaitResolvesOnCompletion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	ctx := context.Background()

	runID, err := f.scheduler.CreateRun(ctx, audit.RunParams{URL: "http://example.com/"}, audit.CallerAnonymous, "")
	require.NoError(t, err)

	done := make(chan Outcome, 1)
	go func() {
		outcome, waitErr := f.scheduler.Wait(ctx, runID)
		if waitErr != nil {
			return
		}
		done <- outcome
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter register
	f.scheduler.Complete(ctx, runID, sampleArtifact())

	select {
	case outcome := <-done:
		require.Equal(t, audit.RunStatusComplete, outcome.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not resolved")
	}
}

func TestWaitOnTerminalRunReturnsImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	ctx := context.Background()

	runID, err := f.scheduler.CreateRun(ctx, audit.RunParams{URL: "http://example.com/"}, audit.CallerAnonymous, "")
	require.NoError(t, err)
	f.scheduler.Fail(ctx, runID, errors.New("boom"))

	outcome, err := f.scheduler.Wait(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusError, outcome.Status)
	require.Equal(t, "boom", outcome.ErrorText)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)

	runID, err := f.scheduler.CreateRun(context.Background(), audit.RunParams{URL: "http://example.com/"}, audit.CallerAnonymous, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = f.scheduler.Wait(ctx, runID)
	require.Error(t, err)

	// The abandoned waiter must not break later terminal handling.
	f.scheduler.Complete(context.Background(), runID, sampleArtifact())
	run, err := f.scheduler.Status(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusComplete, run.Status)
}

func TestWaitUnknownRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	_, err := f.scheduler.Wait(context.Background(), "missing")
	require.ErrorIs(t, err, audit.ErrRunNotFound)
}

func TestResultUnknownRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	_, err := f.scheduler.Result(context.Background(), "missing")
	require.ErrorIs(t, err, audit.ErrResultNotFound)
}
