// Package testutil provides deterministic stand-ins for the pipeline's two
// nondeterministic inputs: the batch clock and the ingest-ID generator.
// With both pinned, a pipeline run is a pure function of its inputs and
// golden comparisons are byte-exact.
package testutil

import (
	"sync"
	"time"
)

// FrozenClock serves a fixed wall time.
//
// Unlike the production clock it can be advanced or reset between runs, so
// one test can model batches hours apart without sleeping.
//
// Thread-safety: all methods are safe for concurrent use.
type FrozenClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFrozenClock creates a clock pinned to at.
func NewFrozenClock(at time.Time) *FrozenClock {
	return &FrozenClock{now: at}
}

// Now returns the pinned time.
func (c *FrozenClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the pinned time forward by d.
func (c *FrozenClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set re-pins the clock to at.
func (c *FrozenClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

// MustTime parses an RFC 3339 timestamp or panics. For test fixtures.
func MustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
