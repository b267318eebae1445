package lookup

import "github.com/verdantlabs/menusync/internal/catalog"

// Recorder wraps the frozen Maps for a single item and records every entry
// a rule consults, including misses. The recorded subset is what the item's
// replay pack embeds, so replay resolves (and fails to resolve) exactly the
// same names the live run did.
//
// A Recorder belongs to one item on one goroutine; it is not safe for
// concurrent use.
type Recorder struct {
	maps       *Maps
	externalID string

	brands      map[string]*catalog.Brand
	strains     map[string]*catalog.Strain
	tags        map[string]*catalog.Tag
	suggestions []string
	suggested   bool
}

// NewRecorder builds a Recorder for one item.
func NewRecorder(m *Maps, externalID string) *Recorder {
	return &Recorder{
		maps:       m,
		externalID: externalID,
		brands:     map[string]*catalog.Brand{},
		strains:    map[string]*catalog.Strain{},
		tags:       map[string]*catalog.Tag{},
	}
}

// Brand resolves a brand by display name, recording the consultation.
func (r *Recorder) Brand(name string) (catalog.Brand, bool) {
	key := NormalizeKey(name)
	if key == "" {
		return catalog.Brand{}, false
	}
	b, ok := r.maps.Brands[key]
	if ok {
		hit := b
		r.brands[key] = &hit
		return b, true
	}
	r.brands[key] = nil
	return catalog.Brand{}, false
}

// Strain resolves a strain by display name, recording the consultation.
func (r *Recorder) Strain(name string) (catalog.Strain, bool) {
	key := NormalizeKey(name)
	if key == "" {
		return catalog.Strain{}, false
	}
	s, ok := r.maps.Strains[key]
	if ok {
		hit := s
		r.strains[key] = &hit
		return s, true
	}
	r.strains[key] = nil
	return catalog.Strain{}, false
}

// Tag resolves a tag by display name, recording the consultation.
func (r *Recorder) Tag(name string) (catalog.Tag, bool) {
	key := NormalizeKey(name)
	if key == "" {
		return catalog.Tag{}, false
	}
	t, ok := r.maps.Tags[key]
	if ok {
		hit := t
		r.tags[key] = &hit
		return t, true
	}
	r.tags[key] = nil
	return catalog.Tag{}, false
}

// Suggestions returns the autotagger suggestions for this item, recording
// the consultation so replay sees the same list.
func (r *Recorder) Suggestions() []string {
	if !r.suggested {
		r.suggested = true
		if r.maps.Suggestions != nil {
			r.suggestions = r.maps.Suggestions[r.externalID]
		}
	}
	return r.suggestions
}

// ResolverSnapshot is the consulted subset of the batch lookups, embedded in
// replay packs. A nil entry records a miss.
type ResolverSnapshot struct {
	Brands  map[string]*catalog.Brand  `json:"brands"`
	Strains map[string]*catalog.Strain `json:"strains"`
	Tags    map[string]*catalog.Tag    `json:"tags"`

	// Suggestions is present only when the item consulted the autotagger.
	Suggestions []string `json:"suggestions,omitempty"`
}

// Snapshot returns the consulted entries recorded so far.
func (r *Recorder) Snapshot() *ResolverSnapshot {
	snap := &ResolverSnapshot{
		Brands:  r.brands,
		Strains: r.strains,
		Tags:    r.tags,
	}
	if r.suggested {
		snap.Suggestions = append([]string{}, r.suggestions...)
	}
	return snap
}

// Maps rebuilds frozen lookup maps from a recorded snapshot for the item
// the snapshot belongs to. Misses (nil entries) stay absent, so replay
// reproduces unresolved references.
func (s *ResolverSnapshot) Maps(externalID string) *Maps {
	m := &Maps{
		Brands:  map[string]catalog.Brand{},
		Strains: map[string]catalog.Strain{},
		Tags:    map[string]catalog.Tag{},
	}
	for k, v := range s.Brands {
		if v != nil {
			m.Brands[k] = *v
		}
	}
	for k, v := range s.Strains {
		if v != nil {
			m.Strains[k] = *v
		}
	}
	for k, v := range s.Tags {
		if v != nil {
			m.Tags[k] = *v
		}
	}
	if s.Suggestions != nil {
		m.Suggestions = map[string][]string{externalID: s.Suggestions}
	}
	return m
}
