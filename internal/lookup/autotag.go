package lookup

import "context"

// Autotagger suggests tag names for raw payloads, keyed by external ID. It
// is consulted once per batch, before the first item runs; the suggestions
// freeze into the batch maps and the suggested names join the tag preload so
// they resolve exactly like payload tags.
type Autotagger interface {
	Suggest(ctx context.Context, sourceID string, payloads []map[string]any) (map[string][]string, error)
}

// NopAutotagger suggests nothing.
type NopAutotagger struct{}

// Suggest implements Autotagger.
func (NopAutotagger) Suggest(context.Context, string, []map[string]any) (map[string][]string, error) {
	return nil, nil
}

// StaticAutotagger returns fixed suggestions regardless of the payloads.
type StaticAutotagger map[string][]string

// Suggest implements Autotagger.
func (s StaticAutotagger) Suggest(context.Context, string, []map[string]any) (map[string][]string, error) {
	return s, nil
}
