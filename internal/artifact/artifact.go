// Package artifact stores replay packs. Writes are keyed by the item's
// batch coordinates and are idempotent: a key is written at most once and
// a second write of the same key reports ErrExists, which callers treat as
// already-done. Nothing in the pipeline ever overwrites an artifact.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrExists reports a put to an occupied key.
var ErrExists = errors.New("artifact: key already exists")

// ErrNotFound reports a get of an absent key.
var ErrNotFound = errors.New("artifact: not found")

// Store is the artifact sink. Implementations must make Put atomic: a key
// either holds the complete artifact or does not exist.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Key addresses one replay pack. The string layout partitions by
// environment, batch date, terminal status and ruleset version, so both
// humans and object-store lifecycle rules can prune by prefix.
type Key struct {
	Env            string
	Date           time.Time
	Status         string
	RulesetVersion string
	SourceID       string
	ExternalID     string
	IngestID       string
}

// String renders the storage key:
//
//	env=<env>/date=<YYYY-MM-DD>/status=<status>/ruleset=<ver>/<source_id>/<external_id>/<ingest_id>.json.gz
func (k Key) String() string {
	return fmt.Sprintf("env=%s/date=%s/status=%s/ruleset=%s/%s/%s/%s.json.gz",
		segment(k.Env),
		k.Date.UTC().Format("2006-01-02"),
		segment(k.Status),
		segment(k.RulesetVersion),
		segment(k.SourceID),
		segment(k.ExternalID),
		segment(k.IngestID))
}

// segment makes a value safe as one path element. Separators and parent
// references would otherwise let a hostile external_id escape the layout.
func segment(s string) string {
	if s == "" {
		return "_"
	}
	s = strings.NewReplacer("/", "_", "\\", "_", "\x00", "_").Replace(s)
	if s == "." || s == ".." {
		return "_"
	}
	return s
}
