// Package memory provides the in-process run queue.
package memory

import (
	"context"
	"sync"

	"github.com/speedindex/pageaudit/internal/audit"
)

// Queue is a bounded channel-backed queue. A full buffer applies
// backpressure to Enqueue rather than dropping jobs.
type Queue struct {
	jobs chan audit.Job
	once sync.Once
}

// NewQueue constructs a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{jobs: make(chan audit.Job, capacity)}
}

// Enqueue blocks until there is room in the buffer or the context ends.
func (q *Queue) Enqueue(ctx context.Context, job audit.Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks for the next job. It returns audit.ErrQueueClosed once the
// queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (audit.Job, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return audit.Job{}, audit.ErrQueueClosed
		}
		return job, nil
	case <-ctx.Done():
		return audit.Job{}, ctx.Err()
	}
}

// Close shuts the queue down. Jobs already buffered are still delivered
// before Dequeue starts reporting ErrQueueClosed. Close must not race with
// Enqueue; the server stops accepting runs before calling it.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.jobs) })
}
