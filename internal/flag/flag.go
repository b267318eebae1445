// Package flag freezes feature-flag state for a batch. Flags are read from
// a backend exactly once per batch over a declared manifest; rules only ever
// see the frozen snapshot, so mid-batch backend changes cannot split a
// batch's behavior.
package flag

import (
	"context"
	"fmt"
	"sort"

	"github.com/verdantlabs/menusync/internal/canon"
)

// Manifest is the declared universe of flag names a deployment may consult.
// Rules referencing a name outside the manifest fail ruleset compilation.
type Manifest []string

// DefaultManifest lists the flags the built-in rules consult.
var DefaultManifest = Manifest{
	"menu.autotag",
	"menu.require_brand",
}

// Contains reports whether name is part of the manifest.
func (m Manifest) Contains(name string) bool {
	for _, n := range m {
		if n == name {
			return true
		}
	}
	return false
}

// Provider evaluates a single flag for an actor. Implementations may call
// out to a flag service; the pipeline only calls them during snapshotting.
type Provider interface {
	Enabled(ctx context.Context, name, actor string) (bool, error)
}

// Snapshot is the frozen flag state for one batch. Read-only after
// construction; safe for concurrent readers.
type Snapshot struct {
	values  map[string]bool
	version string
}

// TakeSnapshot evaluates every manifest flag once for the given actor and
// freezes the result. The version is the first 12 hex characters of a
// SHA-256 digest over the canonical serialization of the name→value map,
// so equal snapshots always carry equal versions.
func TakeSnapshot(ctx context.Context, p Provider, manifest Manifest, actor string) (*Snapshot, error) {
	values := make(map[string]bool, len(manifest))

	names := append([]string(nil), manifest...)
	sort.Strings(names)
	for _, name := range names {
		on, err := p.Enabled(ctx, name, actor)
		if err != nil {
			return nil, fmt.Errorf("flag %q for %q: %w", name, actor, err)
		}
		values[name] = on
	}

	version, err := digest(values)
	if err != nil {
		return nil, err
	}
	return &Snapshot{values: values, version: version}, nil
}

// FromValues builds a snapshot directly from a value map. Used by the replay
// runner to reconstruct the snapshot recorded in a pack.
func FromValues(values map[string]bool) (*Snapshot, error) {
	copied := make(map[string]bool, len(values))
	for k, v := range values {
		copied[k] = v
	}
	version, err := digest(copied)
	if err != nil {
		return nil, err
	}
	return &Snapshot{values: copied, version: version}, nil
}

func digest(values map[string]bool) (string, error) {
	obj := make(map[string]any, len(values))
	for k, v := range values {
		obj[k] = v
	}
	return canon.ShortDigest(canon.DomainFlags, obj)
}

// Enabled reports the frozen value for name. Names outside the snapshot
// report false.
func (s *Snapshot) Enabled(name string) bool {
	return s.values[name]
}

// Version is the snapshot's content digest.
func (s *Snapshot) Version() string {
	return s.version
}

// Values returns a copy of the frozen name→value map.
func (s *Snapshot) Values() map[string]bool {
	out := make(map[string]bool, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// StaticProvider serves flags from a fixed map, typically seeded from
// service configuration. Missing names evaluate to false.
type StaticProvider map[string]bool

// Enabled implements Provider.
func (p StaticProvider) Enabled(_ context.Context, name, _ string) (bool, error) {
	return p[name], nil
}
