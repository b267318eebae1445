package pipeline

import "github.com/google/uuid"

// IngestIDs mints per-item ingest identifiers. IDs are assigned serially in
// input order before items reach the worker pool, so a deterministic
// generator (testutil.FixedIngestIDs, testutil.SeqIngestIDs) yields the same
// assignment on every run.
type IngestIDs interface {
	NewID() string
}

// UUIDIngestIDs mints time-sortable UUIDv7 ingest IDs. The embedded
// timestamp keeps pack filenames roughly ordered by arrival.
//
// Stateless and safe for concurrent use.
type UUIDIngestIDs struct{}

// NewID returns a new UUIDv7 as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDIngestIDs) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
