package audit

import (
	"context"
	"time"
)

// RunStore persists run records. Implementations must enforce the
// forward-only lifecycle: updating a terminal run fails with ErrRunTerminal.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string) error
}

// ResultStore persists finished artifacts. Results are write-once; a second
// Put for the same run ID fails with ErrResultExists.
type ResultStore interface {
	Put(ctx context.Context, result Result) error
	Get(ctx context.Context, runID string) (Result, error)
}

// Queue hands jobs from the scheduler to workers.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// Collector executes the audit for one job and produces its artifact.
type Collector interface {
	Collect(ctx context.Context, job Job) (Artifact, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
