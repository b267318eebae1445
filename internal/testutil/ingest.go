package testutil

import (
	"fmt"
	"sync"
)

// FixedIngestIDs returns predetermined ingest IDs in order.
//
// This enables deterministic replay-pack keys and golden comparisons: a
// scenario lists the IDs its items will receive and the artifacts come out
// byte-identical run after run.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedIngestIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIngestIDs creates a generator that returns ids in order.
//
// Panics when exhausted; a test consuming more IDs than it declared is
// misconfigured and should fail loudly.
func NewFixedIngestIDs(ids ...string) *FixedIngestIDs {
	return &FixedIngestIDs{ids: ids}
}

// NewID returns the next predetermined ID.
func (g *FixedIngestIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedIngestIDs: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SeqIngestIDs yields "ingest-000001", "ingest-000002", ... without limit.
// For property tests over arbitrary batch sizes.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SeqIngestIDs struct {
	mu sync.Mutex
	n  int
}

// NewID returns the next sequential ID.
func (g *SeqIngestIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("ingest-%06d", g.n)
}
