// Package admission enforces the anonymous run concurrency ceiling.
package admission

import (
	"sync"

	"github.com/speedindex/pageaudit/internal/audit"
	"github.com/speedindex/pageaudit/internal/metrics"
)

// Controller tracks in-flight anonymous runs against a hard ceiling.
// Authenticated callers are never limited here. The check-and-increment is a
// single critical section; callers can race arbitrarily without overshooting
// the ceiling.
type Controller struct {
	mu           sync.Mutex
	maxAnonymous int
	anonymous    int
}

// NewController builds a Controller with the given anonymous ceiling.
func NewController(maxAnonymous int) *Controller {
	return &Controller{maxAnonymous: maxAnonymous}
}

// TryAdmit attempts to reserve a slot for the caller class. It reports false
// without side effects when the anonymous ceiling is reached.
func (c *Controller) TryAdmit(class audit.CallerClass) bool {
	if class != audit.CallerAnonymous {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.anonymous >= c.maxAnonymous {
		return false
	}
	c.anonymous++
	metrics.IncAnonymousInFlight()
	return true
}

// Release frees the slot held by an admitted run. It must be called exactly
// once per admitted run, on the terminal transition.
func (c *Controller) Release(class audit.CallerClass) {
	if class != audit.CallerAnonymous {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.anonymous == 0 {
		// Release without a matching admit indicates a scheduler bug;
		// do not let the counter go negative.
		return
	}
	c.anonymous--
	metrics.DecAnonymousInFlight()
}

// InFlight returns the number of anonymous runs currently holding a slot.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anonymous
}
