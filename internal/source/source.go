// Package source defines ingestion sources: where a batch's items come
// from and how they are vetted and transformed before the canonical stage.
// A source owns its raw payload contract, its external transformer ruleset
// (field normalization plus action classification) and the payload keys the
// lookup preloader scans.
package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/verdantlabs/menusync/internal/contract"
	"github.com/verdantlabs/menusync/internal/lookup"
	"github.com/verdantlabs/menusync/internal/ruleset"
)

// Definition is one registered source.
type Definition struct {
	// ID keys the source in the registry and in persisted records.
	ID string

	// SchemaVersion names the raw payload shape this source currently
	// accepts; replay packs record it as payload_schema_version.
	SchemaVersion string

	// Raw vets incoming payloads before any transformation.
	Raw contract.Contract

	// Transformer normalizes vendor fields and classifies the item action.
	Transformer *ruleset.RuleSet

	// Keys names the payload fields the lookup preloader scans.
	Keys lookup.Keys

	// Silent lists the canonical attributes whose updates skip model hooks:
	// an update touching only silent attributes takes the silent
	// persistence path (no updated_at bump, no revision bump).
	Silent []string
}

// SilentOnly reports whether every changed key lies in the silent set.
// Empty change sets report false; they take the noop path instead.
func (d Definition) SilentOnly(changed []string) bool {
	if len(changed) == 0 {
		return false
	}
	for _, key := range changed {
		found := false
		for _, s := range d.Silent {
			if key == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Registry maps source IDs to definitions.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: map[string]Definition{}}
}

// Register adds a definition. Duplicate IDs are an error.
func (reg *Registry) Register(d Definition) error {
	if d.ID == "" {
		return fmt.Errorf("source with empty id")
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.sources[d.ID]; exists {
		return fmt.Errorf("source %q already registered", d.ID)
	}
	reg.sources[d.ID] = d
	return nil
}

// MustRegister is Register but panics on error. For init-time wiring.
func (reg *Registry) MustRegister(d Definition) {
	if err := reg.Register(d); err != nil {
		panic(err)
	}
}

// Lookup resolves a source by ID.
func (reg *Registry) Lookup(id string) (Definition, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	d, ok := reg.sources[id]
	if !ok {
		return Definition{}, fmt.Errorf("unknown source %q", id)
	}
	return d, nil
}

// IDs returns the registered source IDs, sorted.
func (reg *Registry) IDs() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.sources))
	for id := range reg.sources {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Builtin returns a fresh registry holding every built-in source.
func Builtin() *Registry {
	reg := NewRegistry()
	reg.MustRegister(Treez())
	return reg
}
