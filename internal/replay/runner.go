package replay

import (
	"fmt"
	"sort"

	"github.com/verdantlabs/menusync/internal/catalog"
	"github.com/verdantlabs/menusync/internal/flag"
	"github.com/verdantlabs/menusync/internal/lookup"
	"github.com/verdantlabs/menusync/internal/rule"
	"github.com/verdantlabs/menusync/internal/ruleset"
)

// Rulesets carries the compiled plans the runner re-executes: the source's
// external transformer and the per-action canonical rulesets. Destroy is
// normally nil; destroys run no canonical rules.
type Rulesets struct {
	Transformer *ruleset.RuleSet
	Create      *ruleset.RuleSet
	Update      *ruleset.RuleSet
	Destroy     *ruleset.RuleSet
}

func (r Rulesets) forAction(action string) *ruleset.RuleSet {
	switch action {
	case rule.ActionCreate:
		return r.Create
	case rule.ActionUpdate:
		return r.Update
	case rule.ActionDestroy:
		return r.Destroy
	}
	return nil
}

// Divergence is one observed difference between the recorded run and the
// re-execution.
type Divergence struct {
	Field    string `json:"field"`
	Recorded any    `json:"recorded"`
	Replayed any    `json:"replayed"`
}

// Report is the result of replaying one pack: the rule-by-rule progression
// of both stages and every divergence from the recorded run.
type Report struct {
	Pack *Pack `json:"-"`

	// Skipped marks packs with nothing to re-execute: the item was rejected
	// before any rule fired. Reason says why.
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// Action is the classification the re-execution ran under; empty when
	// the recorded run never classified the item.
	Action string `json:"action,omitempty"`

	TransformSteps []ruleset.Step `json:"transform_steps,omitempty"`
	CanonicalSteps []ruleset.Step `json:"canonical_steps,omitempty"`

	// Mapped is the payload after the replayed transform stage.
	Mapped map[string]any `json:"mapped,omitempty"`

	Fired   []string   `json:"fired"`
	Changes rule.Patch `json:"changes"`

	// Failure records an item-fatal rule error hit during re-execution,
	// mirroring a rejected pack's violation.
	Failure string `json:"failure,omitempty"`

	Divergences []Divergence `json:"divergences,omitempty"`
}

// Diverged reports whether the re-execution differed from the recorded run.
func (r *Report) Diverged() bool { return len(r.Divergences) > 0 }

// Runner re-executes packs against compiled rulesets. The rulesets must be
// compiled from the same configuration the pack was recorded under; the
// report's divergences say when they were not.
type Runner struct {
	rulesets Rulesets
}

// NewRunner builds a Runner over the given plans.
func NewRunner(rs Rulesets) *Runner {
	return &Runner{rulesets: rs}
}

// Run re-executes one pack. Rule evaluation uses only recorded inputs: the
// normalized payload, the consulted lookup entries, the flag values and the
// computed changed keys, all read back from the pack. An error means the
// pack itself is unusable; a diverging or failing re-execution is reported,
// not returned.
func (rn *Runner) Run(p *Pack) (*Report, error) {
	switch p.Status {
	case StatusCreated, StatusUpdated, StatusDestroyed, StatusNoop, StatusRejected:
	default:
		return nil, fmt.Errorf("replay %s: unknown status %q", p.IngestID, p.Status)
	}
	if rn.rulesets.Transformer == nil {
		return nil, fmt.Errorf("replay %s: no transformer ruleset for source %q", p.IngestID, p.SourceID)
	}

	report := &Report{Pack: p, Fired: []string{}, Changes: rule.Patch{}}

	if p.Status == StatusRejected && !anyRuleFired(p.FiredRules) {
		report.Skipped = true
		report.Reason = "item was rejected before any rule fired"
		return report, nil
	}

	flags, err := flag.FromValues(p.FlagsSnapshot)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", p.IngestID, err)
	}
	if flags.Version() != p.FlagsVersion {
		report.Divergences = append(report.Divergences, Divergence{
			Field:    "flags_version",
			Recorded: p.FlagsVersion,
			Replayed: flags.Version(),
		})
	}

	snap := p.ResolverSnapshot
	if snap == nil {
		snap = &lookup.ResolverSnapshot{}
	}
	recorder := lookup.NewRecorder(snap.Maps(p.ExternalID), p.ExternalID)

	action := deriveAction(p)
	report.Action = action
	canonical := rn.rulesets.forAction(action)

	plan := rn.rulesets.Transformer.Plan()
	if canonical != nil {
		plan = append(plan, canonical.Plan()...)
	}
	if !plansEqual(p.RulesOrder, plan) {
		report.Divergences = append(report.Divergences, Divergence{
			Field:    "rules_order",
			Recorded: p.RulesOrder,
			Replayed: plan,
		})
	}

	// The prior record is not embedded in the pack; a positional stand-in
	// is enough for action classification, the only thing rules read it for.
	var record *catalog.MenuItem
	if action == rule.ActionUpdate || action == rule.ActionDestroy {
		record = &catalog.MenuItem{SourceID: p.SourceID, ExternalID: p.ExternalID}
	}

	tctx := rule.NewContext(rule.ContextConfig{
		Now:         p.ProducedTime(),
		Env:         p.Env,
		SourceID:    p.SourceID,
		ExternalID:  p.ExternalID,
		Payload:     clonePayload(p.RawPayloadNormalized),
		MenuItem:    record,
		Flags:       flags,
		Lookups:     recorder,
		ChangedKeys: []string{rule.ChangedAll},
	})

	tchanges, tfired, tsteps, err := rn.rulesets.Transformer.EvaluateTrace(tctx)
	report.TransformSteps = tsteps
	report.Fired = append(report.Fired, tfired...)
	if err != nil {
		report.Failure = err.Error()
		rn.compare(report)
		return report, nil
	}

	mapped := clonePayload(p.RawPayloadNormalized)
	for k, v := range tchanges {
		mapped[k] = v
	}
	delete(mapped, rule.KeyAction)
	report.Mapped = mapped

	if canonical != nil {
		cctx := rule.NewContext(rule.ContextConfig{
			Now:         p.ProducedTime(),
			Env:         p.Env,
			SourceID:    p.SourceID,
			ExternalID:  p.ExternalID,
			Action:      action,
			Payload:     mapped,
			MenuItem:    record,
			Flags:       flags,
			Lookups:     recorder,
			ChangedKeys: p.ChangedKeys,
		})

		cchanges, cfired, csteps, err := canonical.EvaluateTrace(cctx)
		report.CanonicalSteps = csteps
		report.Fired = append(report.Fired, cfired...)
		if err != nil {
			report.Failure = err.Error()
			rn.compare(report)
			return report, nil
		}
		report.Changes = cchanges
	}

	rn.compare(report)
	return report, nil
}

// compare diffs the re-execution against the recorded run.
func (rn *Runner) compare(r *Report) {
	p := r.Pack

	if !stringsEqual(p.FiredRules, r.Fired) {
		r.Divergences = append(r.Divergences, Divergence{
			Field:    "fired_rules",
			Recorded: p.FiredRules,
			Replayed: r.Fired,
		})
	}

	if r.Failure != "" && p.Status != StatusRejected {
		r.Divergences = append(r.Divergences, Divergence{
			Field:    "status",
			Recorded: p.Status,
			Replayed: StatusRejected,
		})
	}

	if p.MappedPayload != nil && r.Mapped != nil {
		compareMaps(r, "mapped_payload", p.MappedPayload, r.Mapped)
	}
	compareMaps(r, "changes", p.Changes, r.Changes)
}

func compareMaps(r *Report, field string, recorded, replayed map[string]any) {
	keys := map[string]bool{}
	for k := range recorded {
		keys[k] = true
	}
	for k := range replayed {
		keys[k] = true
	}

	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		rec, recOK := recorded[k]
		rep, repOK := replayed[k]
		if recOK != repOK || !catalog.ValueEqual(rec, rep) {
			r.Divergences = append(r.Divergences, Divergence{
				Field:    field + "." + k,
				Recorded: rec,
				Replayed: rep,
			})
		}
	}
}

// deriveAction recovers the classification of the recorded run. Terminal
// statuses imply it directly; rejected packs are scanned for the action rule
// that fired. Empty means the item was never classified.
func deriveAction(p *Pack) string {
	switch p.Status {
	case StatusCreated:
		return rule.ActionCreate
	case StatusUpdated, StatusNoop:
		return rule.ActionUpdate
	case StatusDestroyed:
		return rule.ActionDestroy
	}
	for _, name := range p.FiredRules {
		switch name {
		case "create_action_rule":
			return rule.ActionCreate
		case "update_action_rule":
			return rule.ActionUpdate
		case "destroy_action_rule":
			return rule.ActionDestroy
		}
	}
	return ""
}

// anyRuleFired reports whether a real rule fired; the raw-validation
// pseudo-rule does not count.
func anyRuleFired(fired []string) bool {
	for _, name := range fired {
		if name != FiredRawValidation {
			return true
		}
	}
	return false
}

func clonePayload(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func plansEqual(a, b []ruleset.PlanEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
