package ruleset

import (
	"fmt"
	"sort"

	"github.com/verdantlabs/menusync/internal/rule"
)

// Step records one rule's evaluation during a traced run: whether it fired,
// what it patched, which accumulated keys the patch touched, and the merged
// changes after it.
type Step struct {
	Rule       string     `json:"rule"`
	Applied    bool       `json:"applied"`
	Patch      rule.Patch `json:"patch,omitempty"`
	Conflicts  []string   `json:"conflicts,omitempty"`
	StateAfter rule.Patch `json:"state_after"`
}

// Evaluate runs the frozen plan over one item context and returns the merged
// changes and the ordered fired-rule names. Both are fresh values; the
// ruleset itself is never mutated, so concurrent evaluations are safe.
//
// Evaluation is strictly sequential in the compiled order. A rule whose
// Applies returns false is skipped without firing. After a rule fires the
// context's changed-key set is extended with the rule's declared writes, so
// downstream rules observe the new keys as changed.
//
// Errors are item-fatal, never batch-fatal: *RuleError for an Apply failure,
// a recovered panic, or a patch key outside the declared writes; a RuleError
// wrapping *ConflictError for a write overlap under ErrorOnConflict. On
// error the changes and fired names accumulated before the failure are
// returned with it, so callers record the same partial progression a replay
// of the failure reproduces.
func (rs *RuleSet) Evaluate(ctx *rule.Context) (rule.Patch, []string, error) {
	changes, fired, _, err := rs.run(ctx, false)
	return changes, fired, err
}

// EvaluateTrace is Evaluate with a per-rule step trace. The replay runner
// uses it to show rule-by-rule progression; on error the steps completed
// before the failure are still returned.
func (rs *RuleSet) EvaluateTrace(ctx *rule.Context) (rule.Patch, []string, []Step, error) {
	return rs.run(ctx, true)
}

func (rs *RuleSet) run(ctx *rule.Context, trace bool) (rule.Patch, []string, []Step, error) {
	changes := rule.Patch{}
	fired := make([]string, 0, len(rs.order))
	var steps []Step

	for _, name := range rs.order {
		r := rs.rules[name]
		meta := r.Meta()

		applies, err := safeApplies(r, ctx)
		if err != nil {
			return changes, fired, steps, err
		}
		if !applies {
			if trace {
				steps = append(steps, Step{Rule: name, StateAfter: changes.Clone()})
			}
			continue
		}

		if rs.policy == ErrorOnConflict {
			if key, first := overlap(meta.Writes, changes, fired, rs.rules); key != "" {
				return changes, fired, steps, &RuleError{
					Rule: name,
					Err:  &ConflictError{Key: key, First: first, Second: name},
				}
			}
		}

		patch, err := safeApply(r, ctx)
		if err != nil {
			return changes, fired, steps, &RuleError{Rule: name, Err: err}
		}

		var conflicts []string
		for _, k := range sortedNames(patch) {
			if !contains(meta.Writes, k) {
				return changes, fired, steps, &RuleError{
					Rule: name,
					Err:  fmt.Errorf("patch key %q outside declared writes", k),
				}
			}
			if _, taken := changes[k]; taken {
				conflicts = append(conflicts, k)
				if rs.policy == FirstWins {
					continue
				}
			}
			changes[k] = patch[k]
		}

		fired = append(fired, name)
		ctx.MarkChanged(meta.Writes...)

		if trace {
			steps = append(steps, Step{
				Rule:       name,
				Applied:    true,
				Patch:      patch.Clone(),
				Conflicts:  conflicts,
				StateAfter: changes.Clone(),
			})
		}
	}

	return changes, fired, steps, nil
}

// safeApplies calls Applies, converting a panic into a RuleError.
func safeApplies(r rule.Rule, ctx *rule.Context) (applies bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &RuleError{Rule: r.Meta().Name, Err: fmt.Errorf("applies panicked: %v", rec)}
		}
	}()
	return r.Applies(ctx), nil
}

// safeApply calls Apply, converting a panic into an error.
func safeApply(r rule.Rule, ctx *rule.Context) (patch rule.Patch, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			patch = nil
			err = fmt.Errorf("apply panicked: %v", rec)
		}
	}()
	return r.Apply(ctx)
}

// overlap reports the first declared write already present in the
// accumulated changes, along with the fired rule that owns it. Keys are
// checked in sorted order so the reported conflict is stable.
func overlap(writes []string, changes rule.Patch, fired []string, rules map[string]rule.Rule) (key, owner string) {
	sorted := append([]string(nil), writes...)
	sort.Strings(sorted)
	for _, w := range sorted {
		if _, ok := changes[w]; !ok {
			continue
		}
		for _, f := range fired {
			if contains(rules[f].Meta().Writes, w) {
				return w, f
			}
		}
		return w, "earlier rule"
	}
	return "", ""
}

func contains(set []string, key string) bool {
	for _, s := range set {
		if s == key {
			return true
		}
	}
	return false
}
