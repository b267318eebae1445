package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/verdantlabs/menusync/internal/catalog"
)

// Backend is the bulk read interface the preloader draws from. Name slices
// arrive pre-normalized via NormalizeKey, deduplicated and sorted;
// implementations return maps keyed by the same normalized names, omitting
// entries that do not exist.
type Backend interface {
	BrandsByName(ctx context.Context, names []string) (map[string]catalog.Brand, error)
	StrainsByName(ctx context.Context, names []string) (map[string]catalog.Strain, error)
	TagsByName(ctx context.Context, names []string) (map[string]catalog.Tag, error)
	ProductsByExternalID(ctx context.Context, sourceID string, externalIDs []string) (map[string]*catalog.MenuItem, error)
}

// Keys names the raw payload fields a source carries its references under.
// The preloader scans these fields across the whole batch.
type Keys struct {
	ExternalID string
	Brand      string
	Strain     string
	Tags       string
}

// Preloader issues one bulk read per reference kind and freezes the results.
// A backend failure aborts the whole batch; a partially loaded batch would
// make resolution order-dependent.
type Preloader struct {
	backend    Backend
	autotagger Autotagger
	logger     *slog.Logger
}

// Option configures a Preloader.
type Option func(*Preloader)

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Preloader) { p.logger = l }
}

// WithAutotagger sets the tag suggester. Defaults to NopAutotagger.
func WithAutotagger(a Autotagger) Option {
	return func(p *Preloader) { p.autotagger = a }
}

// NewPreloader builds a Preloader over the given backend.
func NewPreloader(b Backend, opts ...Option) *Preloader {
	p := &Preloader{backend: b, autotagger: NopAutotagger{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load scans the batch payloads for reference names, issues one bulk query
// per kind and returns the frozen maps. The autotagger is consulted first so
// suggested tag names widen the tag preload. Every error is batch-fatal.
func (p *Preloader) Load(ctx context.Context, sourceID string, payloads []map[string]any, keys Keys) (*Maps, error) {
	suggestions, err := p.autotagger.Suggest(ctx, sourceID, payloads)
	if err != nil {
		return nil, fmt.Errorf("autotag suggestions: %w", err)
	}

	brands, err := p.backend.BrandsByName(ctx, collectNames(payloads, keys.Brand))
	if err != nil {
		return nil, fmt.Errorf("preload brands: %w", err)
	}
	strains, err := p.backend.StrainsByName(ctx, collectNames(payloads, keys.Strain))
	if err != nil {
		return nil, fmt.Errorf("preload strains: %w", err)
	}
	tagNames := collectNameLists(payloads, keys.Tags)
	if len(suggestions) > 0 {
		tagNames = withSuggestedNames(tagNames, suggestions)
	}
	tags, err := p.backend.TagsByName(ctx, tagNames)
	if err != nil {
		return nil, fmt.Errorf("preload tags: %w", err)
	}
	products, err := p.backend.ProductsByExternalID(ctx, sourceID, collectIdentifiers(payloads, keys.ExternalID))
	if err != nil {
		return nil, fmt.Errorf("preload products: %w", err)
	}

	p.logger.Debug("lookups preloaded",
		"source_id", sourceID,
		"brands", len(brands),
		"strains", len(strains),
		"tags", len(tags),
		"products", len(products),
		"suggestions", len(suggestions))

	return &Maps{
		Brands:      brands,
		Strains:     strains,
		Tags:        tags,
		Products:    products,
		Suggestions: suggestions,
	}, nil
}

// withSuggestedNames widens the tag preload with the autotagger's output so
// suggested names resolve like payload tags.
func withSuggestedNames(names []string, suggestions map[string][]string) []string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, list := range suggestions {
		for _, s := range list {
			if n := NormalizeKey(s); n != "" {
				seen[n] = true
			}
		}
	}
	return sortedKeys(seen)
}

// collectNames gathers the distinct normalized values of a scalar string
// field across the batch. Blank values and non-strings are skipped; the
// result is sorted for deterministic query shapes.
func collectNames(payloads []map[string]any, key string) []string {
	if key == "" {
		return nil
	}
	seen := map[string]bool{}
	for _, payload := range payloads {
		s, ok := payload[key].(string)
		if !ok {
			continue
		}
		if n := NormalizeKey(s); n != "" {
			seen[n] = true
		}
	}
	return sortedKeys(seen)
}

// collectNameLists gathers distinct normalized values from a string-array
// field across the batch.
func collectNameLists(payloads []map[string]any, key string) []string {
	if key == "" {
		return nil
	}
	seen := map[string]bool{}
	for _, payload := range payloads {
		list, ok := payload[key].([]any)
		if !ok {
			continue
		}
		for _, v := range list {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if n := NormalizeKey(s); n != "" {
				seen[n] = true
			}
		}
	}
	return sortedKeys(seen)
}

// collectIdentifiers is collectNames without normalization; external IDs
// match verbatim.
func collectIdentifiers(payloads []map[string]any, key string) []string {
	if key == "" {
		return nil
	}
	seen := map[string]bool{}
	for _, payload := range payloads {
		s, ok := payload[key].(string)
		if !ok || s == "" {
			continue
		}
		seen[s] = true
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
