package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/verdantlabs/menusync/internal/artifact"
	"github.com/verdantlabs/menusync/internal/catalog"
	"github.com/verdantlabs/menusync/internal/contract"
	"github.com/verdantlabs/menusync/internal/flag"
	"github.com/verdantlabs/menusync/internal/lookup"
	"github.com/verdantlabs/menusync/internal/persist"
	"github.com/verdantlabs/menusync/internal/pipeline"
	"github.com/verdantlabs/menusync/internal/replay"
	"github.com/verdantlabs/menusync/internal/rule"
	"github.com/verdantlabs/menusync/internal/ruleset"
	"github.com/verdantlabs/menusync/internal/source"
	"github.com/verdantlabs/menusync/internal/testutil"
)

// Result is the outcome of one scenario execution.
type Result struct {
	// Pass is true when every declared expectation held.
	Pass bool

	// Errors lists expectation failures. Empty when Pass is true.
	Errors []string

	// Batch is the pipeline result, outcomes in input order.
	Batch *pipeline.Result

	// Packs holds the decoded replay packs keyed by external ID.
	Packs map[string]*replay.Pack

	// Keys lists the pack storage keys, sorted.
	Keys []string
}

// NewResult returns a passing result to accumulate into.
func NewResult() *Result {
	return &Result{Pass: true, Packs: map[string]*replay.Pack{}}
}

// AddError records an expectation failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Run executes a scenario end to end: fresh SQLite store in a temp dir,
// seeded reference rows and existing records, one batch through the real
// pipeline, expectations evaluated against outcomes and decoded packs.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "menusync-harness-")
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	defer os.RemoveAll(dir)

	store, err := persist.Open("sqlite://" + filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	defer store.Close()

	ctx := context.Background()
	now := scenario.now()

	if err := seed(ctx, store, scenario); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	registry := source.Builtin()
	registry.MustRegister(feedSource())

	packs := artifact.NewMemory()
	pipe := pipeline.New(store, store, packs,
		pipeline.WithEnv("test"),
		pipeline.WithSources(registry),
		pipeline.WithClock(testutil.NewFrozenClock(now)),
		pipeline.WithIngestIDs(&testutil.SeqIngestIDs{}),
		pipeline.WithFlags(flag.StaticProvider(scenario.Flags), flag.DefaultManifest),
		pipeline.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		pipeline.WithVersionInfo("scenario", "scenario"),
	)

	batch, err := pipe.Run(ctx, scenario.sourceID(), scenario.Items)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: run batch: %w", scenario.Name, err)
	}

	result := NewResult()
	result.Batch = batch
	result.Keys = packs.Keys()
	for _, key := range result.Keys {
		data, err := packs.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: read pack %s: %w", scenario.Name, key, err)
		}
		pack, err := replay.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: decode pack %s: %w", scenario.Name, key, err)
		}
		result.Packs[pack.ExternalID] = pack
	}

	evaluate(scenario, result)
	return result, nil
}

// seed loads the scenario's reference rows and pre-existing records. Existing
// records are written through the real repository a day before the batch
// instant, then tombstoned if the scenario says so.
func seed(ctx context.Context, store *persist.Store, scenario *Scenario) error {
	for _, b := range scenario.Brands {
		if err := store.UpsertBrand(ctx, catalog.Brand{ID: b.ID, Name: b.Name}); err != nil {
			return fmt.Errorf("seed brand %q: %w", b.Name, err)
		}
	}
	for _, st := range scenario.Strains {
		if err := store.UpsertStrain(ctx, catalog.Strain{ID: st.ID, Name: st.Name}); err != nil {
			return fmt.Errorf("seed strain %q: %w", st.Name, err)
		}
	}
	for _, tag := range scenario.Tags {
		if err := store.UpsertTag(ctx, catalog.Tag{ID: tag.ID, Name: tag.Name}); err != nil {
			return fmt.Errorf("seed tag %q: %w", tag.Name, err)
		}
	}

	seededAt := scenario.now().Add(-24 * time.Hour)
	for _, e := range scenario.Existing {
		changes, err := existingPatch(ctx, store, e)
		if err != nil {
			return err
		}
		if err := store.Create(ctx, scenario.sourceID(), e.ExternalID, changes, seededAt); err != nil {
			return fmt.Errorf("seed existing %q: %w", e.ExternalID, err)
		}
		if e.Deleted {
			items, err := store.ProductsByExternalID(ctx, scenario.sourceID(), []string{e.ExternalID})
			if err != nil {
				return fmt.Errorf("seed existing %q: %w", e.ExternalID, err)
			}
			if err := store.Destroy(ctx, items[e.ExternalID], pipeline.DestroyReason, seededAt); err != nil {
				return fmt.Errorf("seed existing %q: %w", e.ExternalID, err)
			}
		}
	}
	return nil
}

// existingPatch maps a seeded record onto a canonical changeset, resolving
// references by name against the rows seeded above.
func existingPatch(ctx context.Context, store *persist.Store, e Existing) (rule.Patch, error) {
	status := e.Status
	if status == "" {
		status = catalog.StatusActive
	}
	changes := rule.Patch{"name": e.Name, "status": status}
	if e.PriceCents != nil {
		changes["price_cents"] = *e.PriceCents
	}
	if e.Brand != "" {
		brands, err := store.BrandsByName(ctx, []string{lookup.NormalizeKey(e.Brand)})
		if err != nil {
			return nil, err
		}
		brand, ok := brands[lookup.NormalizeKey(e.Brand)]
		if !ok {
			return nil, fmt.Errorf("existing %q references unseeded brand %q", e.ExternalID, e.Brand)
		}
		changes["brand_id"] = brand.ID
	}
	if e.Strain != "" {
		strains, err := store.StrainsByName(ctx, []string{lookup.NormalizeKey(e.Strain)})
		if err != nil {
			return nil, err
		}
		strain, ok := strains[lookup.NormalizeKey(e.Strain)]
		if !ok {
			return nil, fmt.Errorf("existing %q references unseeded strain %q", e.ExternalID, e.Strain)
		}
		changes["strain_id"] = strain.ID
	}
	if len(e.Tags) > 0 {
		normalized := make([]string, len(e.Tags))
		for i, name := range e.Tags {
			normalized[i] = lookup.NormalizeKey(name)
		}
		tags, err := store.TagsByName(ctx, normalized)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(e.Tags))
		for i, name := range e.Tags {
			tag, ok := tags[normalized[i]]
			if !ok {
				return nil, fmt.Errorf("existing %q references unseeded tag %q", e.ExternalID, name)
			}
			ids = append(ids, tag.ID)
		}
		changes["tag_ids"] = ids
	}
	return changes, nil
}

// evaluate checks the scenario's declared expectations against the run.
func evaluate(scenario *Scenario, result *Result) {
	byID := make(map[string]pipeline.Outcome, len(result.Batch.Outcomes))
	for _, o := range result.Batch.Outcomes {
		byID[o.ExternalID] = o
	}

	for status, want := range scenario.Expect.Counts {
		if got := result.Batch.Counts[status]; got != want {
			result.AddError(fmt.Sprintf("count %s: want %d, got %d", status, want, got))
		}
	}

	for _, want := range scenario.Expect.Outcomes {
		got, ok := byID[want.ExternalID]
		if !ok {
			result.AddError(fmt.Sprintf("no outcome for %q", want.ExternalID))
			continue
		}
		if got.Status != want.Status {
			result.AddError(fmt.Sprintf("%s: status want %s, got %s", want.ExternalID, want.Status, got.Status))
		}
		if want.Fired != nil && !slices.Equal(got.FiredRules, want.Fired) {
			result.AddError(fmt.Sprintf("%s: fired rules want %v, got %v", want.ExternalID, want.Fired, got.FiredRules))
		}
		if want.Violations != nil && !maps.EqualFunc(got.Violations, want.Violations, slices.Equal) {
			result.AddError(fmt.Sprintf("%s: violations want %v, got %v", want.ExternalID, want.Violations, got.Violations))
		}
	}
}

// feedSource is the permissive scenario source: only external_id is vetted,
// and the transformer carries just the action classification rules, so
// fired-rule expectations read as pure classification.
func feedSource() source.Definition {
	return source.Definition{
		ID:            "feed",
		SchemaVersion: "feed.v1",
		Raw: contract.NewSchema(
			contract.Required("external_id", contract.IsString(), contract.Filled()),
			contract.Optional("name", contract.IsString()),
			contract.Optional("brand", contract.IsString()),
			contract.Optional("strain", contract.IsString()),
			contract.Optional("tags", contract.StringArray()),
			contract.Optional("price_cents", contract.IsInt()),
			contract.Optional("status", contract.OneOf("active", "inactive")),
			contract.Optional("deleted_at", contract.IsString()),
		),
		Transformer: feedTransformer(),
		Keys: lookup.Keys{
			ExternalID: "external_id",
			Brand:      "brand",
			Strain:     "strain",
			Tags:       "tags",
		},
		Silent: []string{"price_cents"},
	}
}

func feedTransformer() *ruleset.RuleSet {
	rules := []rule.Rule{
		mustRule(rule.NewCreateActionRule(nil)),
		mustRule(rule.NewUpdateActionRule(nil)),
		mustRule(rule.NewDestroyActionRule(nil)),
	}
	rs, err := ruleset.Compile(rules,
		ruleset.WithName("feed_external"),
		ruleset.WithVersion("scenario.1"),
		ruleset.WithPolicy(ruleset.LastWins),
	)
	if err != nil {
		panic(err) // the scenario set always compiles
	}
	return rs
}

func mustRule(r rule.Rule, err error) rule.Rule {
	if err != nil {
		panic(err)
	}
	return r
}
