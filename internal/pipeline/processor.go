package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/verdantlabs/menusync/internal/artifact"
	"github.com/verdantlabs/menusync/internal/catalog"
	"github.com/verdantlabs/menusync/internal/contract"
	"github.com/verdantlabs/menusync/internal/metric"
	"github.com/verdantlabs/menusync/internal/replay"
	"github.com/verdantlabs/menusync/internal/rule"
	"github.com/verdantlabs/menusync/internal/ruleset"
	"github.com/verdantlabs/menusync/internal/source"
)

// processor runs items through the stage sequence:
//
//	raw validation → external transform → changeset →
//	canonical transform → canonical validation → persistence → observation
//
// Every stage before persistence is a pure function of (item, batch); only
// the last two touch I/O. One processor serves a whole batch. It holds no
// per-item state, so the worker pool shares it across goroutines.
type processor struct {
	batch     Batch
	src       source.Definition
	create    *ruleset.RuleSet
	update    *ruleset.RuleSet
	canonical contract.Contract
	repo      Repository
	store     artifact.Store
	observer  metric.Observer
	logger    *slog.Logger

	appVersion string
	gitSHA     string
}

// run executes the stages for one item in order. A stage that terminates the
// item short-circuits the rest; observation always runs.
func (p *processor) run(ctx context.Context, it Item) Outcome {
	started := time.Now()
	it.Status = StatusProcessing

	stages := []func(Item) Item{
		p.rawValidate,
		p.transform,
		p.changeset,
		p.canonicalTransform,
		p.canonicalValidate,
	}
	for _, stage := range stages {
		it = stage(it)
		if it.Terminal() {
			return p.observe(ctx, it, time.Since(started))
		}
	}

	it = p.persist(ctx, it)
	return p.observe(ctx, it, time.Since(started))
}

// rawValidate applies the source's raw contract. Nothing else runs for an
// item that fails it; the pack records the raw-validation pseudo-rule.
func (p *processor) rawValidate(it Item) Item {
	ok, violations := p.src.Raw.Validate(it.RawPayload)
	if !ok {
		it.Fired = append(it.Fired, replay.FiredRawValidation)
		return it.rejectAll(violations)
	}
	return it
}

// transform runs the source's external transformer over the raw payload and
// consumes the reserved action key. An item no action rule claimed is
// unclassifiable and terminates here.
func (p *processor) transform(it Item) Item {
	tctx := rule.NewContext(rule.ContextConfig{
		Now:         p.batch.Now,
		Env:         p.batch.Env,
		SourceID:    it.SourceID,
		ExternalID:  it.ExternalID,
		Payload:     clonePayload(it.RawPayload),
		MenuItem:    it.Record,
		Flags:       p.batch.Flags,
		Lookups:     it.lookups,
		ChangedKeys: []string{rule.ChangedAll},
	})

	changes, fired, err := p.src.Transformer.Evaluate(tctx)
	it.Fired = append(it.Fired, fired...)
	it.Action, _ = changes[rule.KeyAction].(string)
	if err != nil {
		return p.rejectRuleError(it, err)
	}

	mapped := clonePayload(it.RawPayload)
	for k, v := range changes {
		mapped[k] = v
	}
	delete(mapped, rule.KeyAction)
	it.MappedPayload = mapped

	if it.Action == "" {
		return it.reject("action", "unclassifiable")
	}
	return it
}

// changeset computes the keys the canonical stage may rebuild: everything
// for creates, nothing for destroys, the semantic diff against the existing
// record for updates.
func (p *processor) changeset(it Item) Item {
	switch it.Action {
	case rule.ActionCreate:
		it.ChangedKeys = []string{rule.ChangedAll}
	case rule.ActionDestroy:
		it.ChangedKeys = []string{}
	case rule.ActionUpdate:
		it.ChangedKeys = catalog.ChangedKeys(it.Record.Projection(), it.MappedPayload)
	}
	return it
}

// canonicalTransform dispatches to the action's canonical ruleset. Destroys
// run no canonical rules; their change set stays empty.
func (p *processor) canonicalTransform(it Item) Item {
	it.Changes = rule.Patch{}
	rs := p.rulesetFor(it.Action)
	if rs == nil {
		return it
	}

	cctx := rule.NewContext(rule.ContextConfig{
		Now:         p.batch.Now,
		Env:         p.batch.Env,
		SourceID:    it.SourceID,
		ExternalID:  it.ExternalID,
		Action:      it.Action,
		Payload:     it.MappedPayload,
		MenuItem:    it.Record,
		Flags:       p.batch.Flags,
		Lookups:     it.lookups,
		ChangedKeys: it.ChangedKeys,
	})

	changes, fired, err := rs.Evaluate(cctx)
	it.Fired = append(it.Fired, fired...)
	if err != nil {
		return p.rejectRuleError(it, err)
	}
	it.Changes = changes
	return it
}

func (p *processor) rulesetFor(action string) *ruleset.RuleSet {
	switch action {
	case rule.ActionCreate:
		return p.create
	case rule.ActionUpdate:
		return p.update
	}
	return nil
}

// canonicalValidate checks the canonical contract against the item's merged
// field view: the record projection under the mapped payload under the
// changes. The merge is what the record will look like once the changes land.
func (p *processor) canonicalValidate(it Item) Item {
	merged := map[string]any{}
	if it.Record != nil {
		for k, v := range it.Record.Projection() {
			merged[k] = v
		}
	}
	for k, v := range it.MappedPayload {
		merged[k] = v
	}
	for k, v := range it.Changes {
		merged[k] = v
	}

	if ok, violations := p.canonical.Validate(merged); !ok {
		return it.rejectAll(violations)
	}
	return it
}

// persist applies the item's terminal write inside the repository's per-item
// transaction scope. An update whose rules produced no changes writes
// nothing and lands as noop.
func (p *processor) persist(ctx context.Context, it Item) Item {
	switch it.Action {
	case rule.ActionCreate:
		if err := p.repo.Create(ctx, it.SourceID, it.ExternalID, it.Changes, p.batch.Now); err != nil {
			return it.reject("persistence", err.Error())
		}
		it.Status = replay.StatusCreated

	case rule.ActionUpdate:
		if len(it.Changes) == 0 {
			it.Status = replay.StatusNoop
			return it
		}
		if err := p.updateRecord(ctx, it); err != nil {
			return it.reject("persistence", err.Error())
		}
		it.Status = replay.StatusUpdated

	case rule.ActionDestroy:
		if err := p.repo.Destroy(ctx, it.Record, DestroyReason, p.batch.Now); err != nil {
			return it.reject("persistence", err.Error())
		}
		it.Status = replay.StatusDestroyed
	}
	return it
}

// updateRecord picks the silent path when every changed field lies in the
// source's silent set.
func (p *processor) updateRecord(ctx context.Context, it Item) error {
	keys := make([]string, 0, len(it.Changes))
	for k := range it.Changes {
		keys = append(keys, k)
	}
	if p.src.SilentOnly(keys) {
		return p.repo.UpdateSilent(ctx, it.Record, it.Changes)
	}
	return p.repo.Update(ctx, it.Record, it.Changes, p.batch.Now)
}

// rejectRuleError folds an item-fatal evaluation failure into the violation
// taxonomy: runtime write conflicts under rule_conflict, unresolved required
// references under referential_miss, everything else under
// rule_error.<rule-name>.
func (p *processor) rejectRuleError(it Item, err error) Item {
	var conflictErr *ruleset.ConflictError
	if errors.As(err, &conflictErr) {
		return it.reject("rule_conflict", conflictErr.Error())
	}
	var missErr *rule.RefMissError
	if errors.As(err, &missErr) {
		return it.reject("referential_miss", fmt.Sprintf("unknown %s %q", missErr.Field, missErr.Value))
	}
	var ruleErr *ruleset.RuleError
	if errors.As(err, &ruleErr) {
		return it.reject("rule_error."+ruleErr.Rule, ruleErr.Err.Error())
	}
	return it.reject("rule_error", err.Error())
}

// observe always runs: every terminal item emits one outcome and one replay
// pack, rejects included.
func (p *processor) observe(ctx context.Context, it Item, elapsed time.Duration) Outcome {
	p.writePack(ctx, it)
	p.observer.ItemProcessed(it.SourceID, it.Status, elapsed)

	p.logger.Debug("item processed",
		"source_id", it.SourceID,
		"external_id", it.ExternalID,
		"ingest_id", it.IngestID,
		"status", it.Status,
		"fired", len(it.Fired))

	return Outcome{
		ExternalID: it.ExternalID,
		Status:     it.Status,
		FiredRules: append([]string{}, it.Fired...),
		Violations: it.Violations,
	}
}

// writePack encodes and stores the item's replay pack. Pack failures never
// change the item's outcome; they are counted and logged. A put that reports
// the key already exists is already-done, not a failure.
func (p *processor) writePack(ctx context.Context, it Item) {
	pack := p.buildPack(it)
	data, err := pack.Encode()
	if err != nil {
		p.observer.PackFailed(it.SourceID)
		p.logger.Error("replay pack encode failed",
			"ingest_id", it.IngestID, "error", err)
		return
	}

	if err := p.store.Put(ctx, pack.Key().String(), data); err != nil {
		if errors.Is(err, artifact.ErrExists) {
			return
		}
		p.observer.PackFailed(it.SourceID)
		p.logger.Error("replay pack write failed",
			"ingest_id", it.IngestID, "error", err)
		return
	}
	p.observer.PackWritten(it.SourceID, it.Status, len(data))
}

// buildPack assembles the replay pack from the batch snapshot and the item's
// recorded evaluation. rules_order is the transformer plan followed by the
// plan of the canonical ruleset the action dispatched to, matching what the
// replay runner reconstructs.
func (p *processor) buildPack(it Item) *replay.Pack {
	plan := p.src.Transformer.Plan()
	if rs := p.rulesetFor(it.Action); rs != nil {
		plan = append(plan, rs.Plan()...)
	}

	return &replay.Pack{
		PackVersion:          replay.PackVersion,
		ProducedAt:           p.batch.Now.Unix(),
		Env:                  p.batch.Env,
		AppVersion:           p.appVersion,
		GitSHA:               p.gitSHA,
		RulesetVersion:       p.batch.RulesetVersion,
		FlagsVersion:         p.batch.Flags.Version(),
		PayloadSchemaVersion: p.src.SchemaVersion,
		SourceID:             it.SourceID,
		ExternalID:           it.ExternalID,
		IngestID:             it.IngestID,
		Status:               it.Status,
		FiredRules:           append([]string{}, it.Fired...),
		RawPayloadNormalized: it.RawPayload,
		MappedPayload:        it.MappedPayload,
		ChangedKeys:          it.ChangedKeys,
		Changes:              it.Changes,
		Violations:           it.Violations,
		ResolverSnapshot:     it.lookups.Snapshot(),
		RulesOrder:           plan,
		FlagsSnapshot:        p.batch.Flags.Values(),
	}
}

func clonePayload(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
