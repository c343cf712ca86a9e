package audit

import "errors"

// Sentinel errors shared across layers. The API maps these onto HTTP status
// codes, so wrapping must preserve errors.Is.
var (
	// ErrInvalidKey rejects a request carrying an unrecognized API key.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrQuotaExceeded means the anonymous concurrency ceiling is reached
	// and no run was created.
	ErrQuotaExceeded = errors.New("anonymous run quota exceeded")

	// ErrRunNotFound means no run exists for the given ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists rejects a duplicate run ID on creation.
	ErrRunExists = errors.New("run already exists")

	// ErrRunTerminal rejects a status update against a run that already
	// reached a terminal state.
	ErrRunTerminal = errors.New("run already terminal")

	// ErrResultNotFound covers both unknown runs and runs that have not
	// completed; callers cannot distinguish the two.
	ErrResultNotFound = errors.New("result not found")

	// ErrResultExists rejects a second result write for the same run.
	ErrResultExists = errors.New("result already exists")

	// ErrQueueClosed means the run queue shut down and no further jobs
	// will be delivered.
	ErrQueueClosed = errors.New("queue closed")
)
