// Package lookup preloads the reference data a batch consults and freezes it
// into per-batch maps. Rules never query a backend directly; they read the
// frozen maps through a per-item recorder that captures exactly which entries
// were consulted, which is what replay packs embed.
package lookup

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/verdantlabs/menusync/internal/catalog"
)

// Maps is the frozen reference data for one batch. Read-only after the
// preloader returns it; safe for concurrent readers.
type Maps struct {
	// Brands, Strains and Tags are keyed by NormalizeKey of the name.
	Brands  map[string]catalog.Brand
	Strains map[string]catalog.Strain
	Tags    map[string]catalog.Tag

	// Products holds the existing canonical records for this batch's
	// external IDs, keyed by external ID. Absence means the item is new.
	Products map[string]*catalog.MenuItem

	// Suggestions carries autotagger output keyed by external ID, frozen
	// at batch start alongside the lookups.
	Suggestions map[string][]string
}

// NormalizeKey canonicalizes a reference name for map lookup: NFC, trimmed,
// lowercased. The same normalization is applied when loading and when
// resolving, so "Stiiizy " and "stiiizy" hit the same entry.
func NormalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(name)))
}

// Product returns the existing record for an external ID, or nil.
func (m *Maps) Product(externalID string) *catalog.MenuItem {
	if m == nil || m.Products == nil {
		return nil
	}
	return m.Products[externalID]
}
