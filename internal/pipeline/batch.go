package pipeline

import (
	"time"

	"github.com/verdantlabs/menusync/internal/flag"
	"github.com/verdantlabs/menusync/internal/lookup"
)

// Batch is the immutable context shared by every item of one Run call.
// It is built once at batch start; items never observe state newer than
// this snapshot.
type Batch struct {
	// Now is the single timestamp used for every timestamp decision in
	// the batch: created_at, updated_at, deleted_at, pack produced_at.
	Now time.Time

	Env      string
	SourceID string

	// RulesetVersion is the version of the compiled rulesets in effect.
	RulesetVersion string

	// Flags is the feature flag snapshot taken at batch start.
	Flags *flag.Snapshot

	// Lookups holds the reference data preloaded for the batch's keys.
	Lookups *lookup.Maps
}
