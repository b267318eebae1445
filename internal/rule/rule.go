// Package rule defines the authoring contract for pipeline rules: static
// metadata the compiler plans with, a pure Applies/Apply pair, and the
// read-only context rules evaluate against. Rules never perform I/O, read
// the clock, or mutate their context; everything they may observe is frozen
// into the context before evaluation.
package rule

import "fmt"

// Actions an item can take through the pipeline.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDestroy = "destroy"
)

// KeyAction is the reserved patch key written by action-classification
// rules. The processor consumes it; it never lands in the mapped payload.
const KeyAction = "action"

// ChangedAll is the changed-keys sentinel carried by create-mode items:
// every key counts as changed.
const ChangedAll = "all"

// Patch is the keyed write set a rule returns. Keys must be a subset of the
// rule's declared Writes; the evaluator rejects stray keys.
type Patch map[string]any

// Clone returns a shallow copy.
func (p Patch) Clone() Patch {
	if p == nil {
		return nil
	}
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Meta is the static description the compiler plans with.
//
// Reads and Writes declare the payload keys a rule touches; Writes is
// authoritative for conflict detection. Before and After name other rules
// this one must precede or follow. Flags lists the feature flags the rule
// consults; names outside the deployment's flag manifest fail compilation.
type Meta struct {
	Name     string
	Priority int
	Reads    []string
	Writes   []string
	Before   []string
	After    []string
	Flags    []string
}

// Rule is the authoring contract. Applies and Apply must be pure functions
// of the context: no I/O, no clock or RNG access, no mutation. An Apply
// error is fatal for the item (never the batch).
type Rule interface {
	Meta() Meta
	Applies(*Context) bool
	Apply(*Context) (Patch, error)
}

// Overrides adjusts a rule's metadata at configuration time without
// touching its behavior. Nil/empty fields keep the rule's own values.
type Overrides struct {
	Priority *int
	Before   []string
	After    []string
}

// Override wraps a rule with configuration-level metadata overrides.
func Override(r Rule, o Overrides) Rule {
	meta := r.Meta()
	if o.Priority != nil {
		meta.Priority = *o.Priority
	}
	if o.Before != nil {
		meta.Before = append([]string(nil), o.Before...)
	}
	if o.After != nil {
		meta.After = append([]string(nil), o.After...)
	}
	return &overridden{Rule: r, meta: meta}
}

type overridden struct {
	Rule
	meta Meta
}

func (r *overridden) Meta() Meta { return r.meta }

// RefMissError marks an unresolved reference that the item cannot proceed
// without. Rules normally drop writes for unresolved references; returning
// this error instead rejects the item with a referential_miss violation.
type RefMissError struct {
	Field string
	Value string
}

func (e *RefMissError) Error() string {
	return fmt.Sprintf("referential_miss: unknown %s %q", e.Field, e.Value)
}
