// Package ruleset compiles declared rules into a frozen, deterministically
// ordered plan and evaluates it. Compilation synthesizes ordering edges from
// rule metadata, rejects write conflicts and cycles, and fixes the execution
// order once; evaluation never re-plans.
package ruleset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/verdantlabs/menusync/internal/rule"
)

// Policy decides how overlapping writes merge during evaluation.
type Policy string

const (
	// LastWins lets a later rule override an earlier rule's write.
	LastWins Policy = "last_wins"
	// FirstWins keeps the earlier rule's write.
	FirstWins Policy = "first_wins"
	// ErrorOnConflict rejects the item when two fired rules write the same
	// key without an ordering edge between them.
	ErrorOnConflict Policy = "error_on_conflict"
)

// ParsePolicy validates a policy string from configuration.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case LastWins, FirstWins, ErrorOnConflict:
		return Policy(s), nil
	case "":
		return LastWins, nil
	default:
		return "", fmt.Errorf("unknown merge policy %q", s)
	}
}

// PlanEntry is one slot of the frozen execution order.
type PlanEntry struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// RuleSet is a compiled, frozen rule plan. Immutable after Compile; safe
// for concurrent evaluation.
type RuleSet struct {
	name        string
	version     string
	policy      Policy
	dataFlow    bool
	order       []string
	rules       map[string]rule.Rule
	edges       map[string][]string
	fingerprint string
}

// Name returns the ruleset's configured name.
func (rs *RuleSet) Name() string { return rs.name }

// Version returns the configured version string.
func (rs *RuleSet) Version() string { return rs.version }

// Policy returns the merge policy.
func (rs *RuleSet) Policy() Policy { return rs.policy }

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.order) }

// Order returns a copy of the frozen execution order.
func (rs *RuleSet) Order() []string {
	return append([]string(nil), rs.order...)
}

// Rule returns the rule registered under name.
func (rs *RuleSet) Rule(name string) (rule.Rule, bool) {
	r, ok := rs.rules[name]
	return r, ok
}

// Edges returns a copy of the synthesized ordering edges.
func (rs *RuleSet) Edges() map[string][]string {
	out := make(map[string][]string, len(rs.edges))
	for from, tos := range rs.edges {
		out[from] = append([]string(nil), tos...)
	}
	return out
}

// Plan returns the frozen (name, priority) execution order. This is what
// replay packs embed as rules_order.
func (rs *RuleSet) Plan() []PlanEntry {
	plan := make([]PlanEntry, len(rs.order))
	for i, name := range rs.order {
		plan[i] = PlanEntry{Name: name, Priority: rs.rules[name].Meta().Priority}
	}
	return plan
}

// Fingerprint is a short content digest over the compiled plan: rule names,
// priorities, edges, policy and version. Two compilations of the same
// configuration always agree.
func (rs *RuleSet) Fingerprint() string { return rs.fingerprint }

// RuleError marks an item-fatal failure inside a single rule: an Apply
// error, a recovered panic, or a patch key outside the declared writes.
type RuleError struct {
	Rule string
	Err  error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// ConflictError marks a runtime write overlap under ErrorOnConflict.
type ConflictError struct {
	Key    string
	First  string
	Second string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write conflict on %q between %s and %s", e.Key, e.First, e.Second)
}

// CompileError aggregates every problem found while compiling a ruleset.
// All problems are collected before failing so a broken configuration reads
// as one report, not a fix-one-rerun loop.
type CompileError struct {
	Ruleset  string
	Problems []string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile ruleset %q: %s", e.Ruleset, strings.Join(e.Problems, "; "))
}

// sortedNames returns map keys sorted, for deterministic iteration.
func sortedNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
