package lookup

import (
	"context"

	"github.com/verdantlabs/menusync/internal/catalog"
)

// MemoryBackend serves lookups from in-memory slices. Used by tests and the
// scenario harness; the production backend lives in the persist package.
type MemoryBackend struct {
	Brands   []catalog.Brand
	Strains  []catalog.Strain
	Tags     []catalog.Tag
	Products []*catalog.MenuItem
}

// BrandsByName implements Backend.
func (b *MemoryBackend) BrandsByName(_ context.Context, names []string) (map[string]catalog.Brand, error) {
	out := map[string]catalog.Brand{}
	for _, name := range names {
		for _, brand := range b.Brands {
			if NormalizeKey(brand.Name) == name {
				out[name] = brand
				break
			}
		}
	}
	return out, nil
}

// StrainsByName implements Backend.
func (b *MemoryBackend) StrainsByName(_ context.Context, names []string) (map[string]catalog.Strain, error) {
	out := map[string]catalog.Strain{}
	for _, name := range names {
		for _, strain := range b.Strains {
			if NormalizeKey(strain.Name) == name {
				out[name] = strain
				break
			}
		}
	}
	return out, nil
}

// TagsByName implements Backend.
func (b *MemoryBackend) TagsByName(_ context.Context, names []string) (map[string]catalog.Tag, error) {
	out := map[string]catalog.Tag{}
	for _, name := range names {
		for _, tag := range b.Tags {
			if NormalizeKey(tag.Name) == name {
				out[name] = tag
				break
			}
		}
	}
	return out, nil
}

// ProductsByExternalID implements Backend.
func (b *MemoryBackend) ProductsByExternalID(_ context.Context, sourceID string, externalIDs []string) (map[string]*catalog.MenuItem, error) {
	out := map[string]*catalog.MenuItem{}
	for _, id := range externalIDs {
		for _, item := range b.Products {
			if item.SourceID == sourceID && item.ExternalID == id {
				out[id] = item.Clone()
				break
			}
		}
	}
	return out, nil
}
