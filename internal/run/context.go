package run

import "sync"

// Context carries the per-invocation budget state. All counters live here
// rather than in package globals so concurrent tile workers can share one
// run's budgets behind a single lock.
type Context struct {
	mu sync.Mutex

	maxNewRecords int
	maxDetails    int

	newRecords int
	details    int
	stopped    bool
}

// NewContext builds the budget state for one run. A cap of zero or below
// means unlimited.
func NewContext(maxNewRecords, maxDetails int) *Context {
	return &Context{maxNewRecords: maxNewRecords, maxDetails: maxDetails}
}

// RecordPersisted counts one newly persisted record and reports whether the
// run should stop issuing new work. Only new writes count against the
// budget; freshness skips do not.
func (c *Context) RecordPersisted() (stop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newRecords++
	if c.maxNewRecords > 0 && c.newRecords >= c.maxNewRecords {
		c.stopped = true
	}
	return c.stopped
}

// DetailPersisted counts one successful detail enrichment.
func (c *Context) DetailPersisted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details++
}

// DetailBudgetLeft reports whether another enrichment call is allowed.
func (c *Context) DetailBudgetLeft() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxDetails <= 0 || c.details < c.maxDetails
}

// Stopped reports whether the record budget has been reached. It is checked
// between units of work, never mid-request.
func (c *Context) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Counts returns the current counter values.
func (c *Context) Counts() (newRecords, details int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newRecords, c.details
}
