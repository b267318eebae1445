package rule

import (
	"sort"
	"time"

	"github.com/verdantlabs/menusync/internal/catalog"
	"github.com/verdantlabs/menusync/internal/flag"
	"github.com/verdantlabs/menusync/internal/lookup"
)

// Context is the read-only view a rule evaluates against. It combines the
// frozen batch state (clock, environment, flags, lookups) with the item
// under evaluation. Rules must treat it as immutable; the only writer is
// the evaluator, which extends the changed-key set as rules fire.
type Context struct {
	Now        time.Time
	Env        string
	SourceID   string
	ExternalID string
	Action     string

	// Payload is the item's current payload projection: the normalized raw
	// payload during external transform, the mapped payload during
	// canonical transform.
	Payload map[string]any

	// MenuItem is the existing canonical record, nil for new items.
	MenuItem *catalog.MenuItem

	flags   *flag.Snapshot
	lookups *lookup.Recorder
	changed map[string]bool
}

// ContextConfig carries everything needed to build a Context.
type ContextConfig struct {
	Now         time.Time
	Env         string
	SourceID    string
	ExternalID  string
	Action      string
	Payload     map[string]any
	MenuItem    *catalog.MenuItem
	Flags       *flag.Snapshot
	Lookups     *lookup.Recorder
	ChangedKeys []string
}

// NewContext builds an evaluation context.
func NewContext(cfg ContextConfig) *Context {
	changed := make(map[string]bool, len(cfg.ChangedKeys))
	for _, k := range cfg.ChangedKeys {
		changed[k] = true
	}
	return &Context{
		Now:        cfg.Now,
		Env:        cfg.Env,
		SourceID:   cfg.SourceID,
		ExternalID: cfg.ExternalID,
		Action:     cfg.Action,
		Payload:    cfg.Payload,
		MenuItem:   cfg.MenuItem,
		flags:      cfg.Flags,
		lookups:    cfg.Lookups,
		changed:    changed,
	}
}

// Get returns the payload value for key, nil when absent.
func (ctx *Context) Get(key string) any {
	return ctx.Payload[key]
}

// Has reports whether the payload carries key.
func (ctx *Context) Has(key string) bool {
	_, ok := ctx.Payload[key]
	return ok
}

// Changed reports whether key is part of the item's changed set. The "all"
// sentinel (create-mode items) makes every key changed.
func (ctx *Context) Changed(key string) bool {
	return ctx.changed[ChangedAll] || ctx.changed[key]
}

// ChangedKeys returns the sorted changed-key set.
func (ctx *Context) ChangedKeys() []string {
	keys := make([]string, 0, len(ctx.changed))
	for k := range ctx.changed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarkChanged extends the changed set. Reserved for the evaluator, which
// adds each fired rule's writes so downstream rules see them as changed.
func (ctx *Context) MarkChanged(keys ...string) {
	for _, k := range keys {
		ctx.changed[k] = true
	}
}

// Flag reports the frozen value of a feature flag.
func (ctx *Context) Flag(name string) bool {
	if ctx.flags == nil {
		return false
	}
	return ctx.flags.Enabled(name)
}

// Brand resolves a brand by display name against the frozen batch lookups.
// The consultation is recorded for the item's replay pack.
func (ctx *Context) Brand(name string) (catalog.Brand, bool) {
	if ctx.lookups == nil {
		return catalog.Brand{}, false
	}
	return ctx.lookups.Brand(name)
}

// Strain resolves a strain by display name.
func (ctx *Context) Strain(name string) (catalog.Strain, bool) {
	if ctx.lookups == nil {
		return catalog.Strain{}, false
	}
	return ctx.lookups.Strain(name)
}

// Tag resolves a tag by display name.
func (ctx *Context) Tag(name string) (catalog.Tag, bool) {
	if ctx.lookups == nil {
		return catalog.Tag{}, false
	}
	return ctx.lookups.Tag(name)
}

// Suggestions returns the autotagger suggestions frozen for this item.
func (ctx *Context) Suggestions() []string {
	if ctx.lookups == nil {
		return nil
	}
	return ctx.lookups.Suggestions()
}
