package pipeline

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantlabs/menusync/internal/catalog"
	"github.com/verdantlabs/menusync/internal/flag"
	"github.com/verdantlabs/menusync/internal/lookup"
	"github.com/verdantlabs/menusync/internal/replay"
	"github.com/verdantlabs/menusync/internal/rule"
	"github.com/verdantlabs/menusync/internal/ruleset"
	"github.com/verdantlabs/menusync/internal/source"
	"github.com/verdantlabs/menusync/internal/testutil"
)

func TestRunCreatesMenuItem(t *testing.T) {
	repo := newMemoryRepo()
	p, store := testPipeline(t, repo, testBackend())

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-1", "name": "Blue Dream", "brand": "STIIIZY", "strain": "OG Kush",
			"tags": []any{"Indica", "Sale"}, "price_cents": 1299},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, Outcome{
		ExternalID: "sku-1",
		Status:     replay.StatusCreated,
		FiredRules: []string{
			"normalize_fields_rule",
			"create_action_rule",
			"name_rule",
			"status_rule",
			"price_cents_rule",
			"brand_name_rule",
			"strain_name_rule",
			"tag_names_rule",
		},
	}, res.Outcomes[0])

	assert.Equal(t, []string{"sku-1"}, repo.created)
	assert.Equal(t, rule.Patch{
		"name":        "Blue Dream",
		"status":      "active",
		"price_cents": int64(1299),
		"brand_id":    int64(42),
		"strain_id":   int64(11),
		"tag_ids":     []int64{3, 9},
	}, repo.changes["sku-1"])

	assert.Equal(t, []string{
		"env=test/date=2026-03-14/status=created/ruleset=builtin.1/treez/sku-1/ingest-000001.json.gz",
	}, store.Keys())
}

func TestRunCreateUnresolvedBrandDropsWrite(t *testing.T) {
	repo := newMemoryRepo()
	p, _ := testPipeline(t, repo, testBackend())

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-1", "name": "Blue Dream", "brand": "Phantom Farms"},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, replay.StatusCreated, res.Outcomes[0].Status)
	// The rule fired, consulted the lookup, missed, and dropped the write.
	assert.Contains(t, res.Outcomes[0].FiredRules, "brand_name_rule")
	assert.NotContains(t, repo.changes["sku-1"], "brand_id")
}

func TestRunUpdatesChangedName(t *testing.T) {
	backend := testBackend()
	backend.Products = []*catalog.MenuItem{existingItem("sku-2", "Old Name", 2500)}
	repo := newMemoryRepo()
	p, _ := testPipeline(t, repo, backend)

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-2", "name": "New Name", "price_cents": 2500, "status": "active"},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, replay.StatusUpdated, res.Outcomes[0].Status)
	assert.Equal(t, []string{"normalize_fields_rule", "update_action_rule", "name_rule"},
		res.Outcomes[0].FiredRules)
	assert.Equal(t, []string{"sku-2"}, repo.updated)
	assert.Equal(t, rule.Patch{"name": "New Name"}, repo.changes["sku-2"])
}

func TestRunNoopOnRedelivery(t *testing.T) {
	backend := testBackend()
	backend.Products = []*catalog.MenuItem{existingItem("sku-2", "Wedding Cake", 3000)}
	repo := newMemoryRepo()
	p, store := testPipeline(t, repo, backend)

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-2", "name": "Wedding Cake", "price_cents": 3000, "status": "active"},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, replay.StatusNoop, res.Outcomes[0].Status)
	assert.Nil(t, res.Outcomes[0].Violations)
	assert.Equal(t, 0, repo.writeCount())

	// A noop still leaves a pack behind.
	assert.Equal(t, 1, store.Len())
	pack := decodePacks(t, store)["sku-2"]
	assert.Equal(t, replay.StatusNoop, pack.Status)
	assert.Empty(t, pack.Changes)
	assert.Empty(t, pack.ChangedKeys)
}

// An update whose only difference is an unresolvable reference name lands as
// noop: the brand rule fires, misses the lookup, drops the write, and no
// changes remain to persist.
func TestRunUnresolvedBrandUpdateIsNoop(t *testing.T) {
	backend := testBackend()
	backend.Products = []*catalog.MenuItem{existingItem("sku-3", "Sunset Sherbet", 2500)}
	repo := newMemoryRepo()
	p, store := testPipeline(t, repo, backend)

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-3", "name": "Sunset Sherbet", "brand": "Phantom Farms",
			"price_cents": 2500, "status": "active"},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, replay.StatusNoop, res.Outcomes[0].Status)
	assert.Equal(t, []string{"normalize_fields_rule", "update_action_rule", "brand_name_rule"},
		res.Outcomes[0].FiredRules)
	assert.Nil(t, res.Outcomes[0].Violations)
	assert.Equal(t, 0, repo.writeCount())

	pack := decodePacks(t, store)["sku-3"]
	assert.Equal(t, []string{"brand"}, pack.ChangedKeys)
	assert.Empty(t, pack.Changes)

	// The miss itself is recorded, so replay fails to resolve it too.
	miss, consulted := pack.ResolverSnapshot.Brands["phantom farms"]
	assert.True(t, consulted)
	assert.Nil(t, miss)
}

func TestRunDestroyTombstones(t *testing.T) {
	backend := testBackend()
	backend.Products = []*catalog.MenuItem{existingItem("sku-4", "Wedding Cake", 3000)}
	repo := newMemoryRepo()
	p, store := testPipeline(t, repo, backend)

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-4", "name": "Wedding Cake", "deleted_at": "2026-03-13T22:00:00Z"},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, replay.StatusDestroyed, res.Outcomes[0].Status)
	assert.Equal(t, []string{"normalize_fields_rule", "destroy_action_rule"},
		res.Outcomes[0].FiredRules)
	assert.Equal(t, []string{"sku-4"}, repo.destroyed)
	assert.Equal(t, DestroyReason, repo.reasons["sku-4"])

	pack := decodePacks(t, store)["sku-4"]
	assert.Equal(t, replay.StatusDestroyed, pack.Status)
	assert.Empty(t, pack.Changes)
	assert.Empty(t, pack.ChangedKeys)
}

func TestRunRawRejectShortCircuits(t *testing.T) {
	repo := newMemoryRepo()
	p, store := testPipeline(t, repo, testBackend())

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-5", "price_cents": 1299},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	assert.Equal(t, replay.StatusRejected, o.Status)
	assert.Equal(t, []string{"must be filled"}, o.Violations["name"])
	assert.Equal(t, []string{replay.FiredRawValidation}, o.FiredRules)
	assert.Equal(t, 0, repo.writeCount())

	// Rejects leave packs too; no rule ran, so replay will skip it.
	pack := decodePacks(t, store)["sku-5"]
	assert.Equal(t, replay.StatusRejected, pack.Status)
	assert.Equal(t, []string{replay.FiredRawValidation}, pack.FiredRules)
	assert.Nil(t, pack.MappedPayload)
}

func TestRunRejectsUnclassifiable(t *testing.T) {
	// deleted_at set but no existing record: no action rule claims it.
	repo := newMemoryRepo()
	p, _ := testPipeline(t, repo, testBackend())

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-6", "name": "Phantom Item", "deleted_at": "2026-03-13T22:00:00Z"},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	assert.Equal(t, replay.StatusRejected, o.Status)
	assert.Equal(t, []string{"unclassifiable"}, o.Violations["action"])
	assert.Equal(t, []string{"normalize_fields_rule"}, o.FiredRules)
	assert.Equal(t, 0, repo.writeCount())
}

func TestRunRejectsMissingRequiredBrand(t *testing.T) {
	repo := newMemoryRepo()
	p, store := testPipeline(t, repo, testBackend(),
		WithFlags(flag.StaticProvider{"menu.require_brand": true}, flag.DefaultManifest))

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-7", "name": "Blue Dream", "brand": "Phantom Farms"},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	assert.Equal(t, replay.StatusRejected, o.Status)
	assert.Equal(t, []string{`unknown brand "Phantom Farms"`}, o.Violations["referential_miss"])
	assert.Equal(t, []string{"normalize_fields_rule", "create_action_rule", "name_rule", "status_rule"},
		o.FiredRules)
	assert.Equal(t, 0, repo.writeCount())

	// The canonical stage failed, so no changes were recorded.
	pack := decodePacks(t, store)["sku-7"]
	assert.Empty(t, pack.Changes)
	assert.True(t, pack.FlagsSnapshot["menu.require_brand"])
}

func TestRunAutotagSuggestionsResolve(t *testing.T) {
	repo := newMemoryRepo()
	p, store := testPipeline(t, repo, testBackend(),
		WithAutotagger(lookup.StaticAutotagger{"sku-10": {"Indica", "Limited"}}),
		WithFlags(flag.StaticProvider{"menu.autotag": true}, flag.DefaultManifest))

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-10", "name": "Blue Dream", "price_cents": 1299},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	assert.Equal(t, replay.StatusCreated, o.Status)
	assert.Equal(t, []string{
		"normalize_fields_rule",
		"create_action_rule",
		"name_rule",
		"status_rule",
		"price_cents_rule",
		"tag_names_rule",
	}, o.FiredRules)

	// "Indica" resolves; "Limited" has no row and drops out.
	assert.Equal(t, []int64{3}, repo.changes["sku-10"]["tag_ids"])

	pack := decodePacks(t, store)["sku-10"]
	assert.True(t, pack.FlagsSnapshot["menu.autotag"])
	require.NotNil(t, pack.ResolverSnapshot)
	assert.Equal(t, []string{"Indica", "Limited"}, pack.ResolverSnapshot.Suggestions)
}

func TestRunAutotagSuggestionsInertWhenFlagOff(t *testing.T) {
	repo := newMemoryRepo()
	p, _ := testPipeline(t, repo, testBackend(),
		WithAutotagger(lookup.StaticAutotagger{"sku-10": {"Indica"}}))

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-10", "name": "Blue Dream", "price_cents": 1299},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, replay.StatusCreated, res.Outcomes[0].Status)
	assert.NotContains(t, res.Outcomes[0].FiredRules, "tag_names_rule")
	assert.NotContains(t, repo.changes["sku-10"], "tag_ids")
}

func TestRunRejectsCanonicalViolation(t *testing.T) {
	repo := newMemoryRepo()
	p, _ := testPipeline(t, repo, testBackend())

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-8", "name": "Freebie", "price_cents": 0},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	assert.Equal(t, replay.StatusRejected, o.Status)
	assert.Equal(t, []string{"must be greater than 0"}, o.Violations["price_cents"])
	assert.Contains(t, o.FiredRules, "price_cents_rule")
	assert.Equal(t, 0, repo.writeCount())
}

// stubRule fires unconditionally with a fixed patch. Reads "name" only so
// data-flow compilation leaves two price writers unordered.
type stubRule struct {
	name     string
	priority int
	writes   []string
	patch    rule.Patch
}

func (r stubRule) Meta() rule.Meta {
	return rule.Meta{Name: r.name, Priority: r.priority, Reads: []string{"name"}, Writes: r.writes}
}

func (r stubRule) Applies(*rule.Context) bool { return true }

func (r stubRule) Apply(*rule.Context) (rule.Patch, error) { return r.patch.Clone(), nil }

func TestRunRejectsRuleConflict(t *testing.T) {
	conflicted, err := ruleset.Compile([]rule.Rule{
		stubRule{name: "list_price_rule", priority: 30, writes: []string{"price_cents"},
			patch: rule.Patch{"price_cents": int64(1000)}},
		stubRule{name: "sale_price_rule", priority: 40, writes: []string{"price_cents"},
			patch: rule.Patch{"price_cents": int64(800)}},
	},
		ruleset.WithName("pricing"),
		ruleset.WithVersion("test.1"),
		ruleset.WithPolicy(ruleset.ErrorOnConflict),
		ruleset.WithDataFlowEdges(),
	)
	require.NoError(t, err)

	repo := newMemoryRepo()
	p, _ := testPipeline(t, repo, testBackend(), WithRulesets(conflicted, conflicted))

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-9", "name": "Blue Dream"},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	assert.Equal(t, replay.StatusRejected, o.Status)
	assert.Equal(t,
		[]string{`write conflict on "price_cents" between list_price_rule and sale_price_rule`},
		o.Violations["rule_conflict"])
	assert.Equal(t, []string{"normalize_fields_rule", "create_action_rule", "list_price_rule"},
		o.FiredRules)
	assert.Equal(t, 0, repo.writeCount())
}

func TestRunSilentUpdateRouting(t *testing.T) {
	backend := testBackend()
	backend.Products = []*catalog.MenuItem{
		existingItem("sku-10", "Gelato", 2500),
		existingItem("sku-11", "Do-Si-Dos", 2200),
	}
	repo := newMemoryRepo()
	p, _ := testPipeline(t, repo, backend)

	res, err := p.Run(context.Background(), "treez", []map[string]any{
		// Price-only change: silent path, no updated_at or revision bump.
		{"external_id": "sku-10", "name": "Gelato", "price_cents": 1499, "status": "active"},
		// Name change rides along with the price: regular update.
		{"external_id": "sku-11", "name": "Do-Si-Dos Premium", "price_cents": 1999, "status": "active"},
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, replay.StatusUpdated, res.Outcomes[0].Status)
	assert.Equal(t, replay.StatusUpdated, res.Outcomes[1].Status)

	assert.Equal(t, []string{"sku-10"}, repo.silent)
	assert.Equal(t, []string{"sku-11"}, repo.updated)
	assert.Equal(t, rule.Patch{"price_cents": int64(1499)}, repo.changes["sku-10"])
	assert.Equal(t, rule.Patch{"name": "Do-Si-Dos Premium", "price_cents": int64(1999)},
		repo.changes["sku-11"])
}

func TestPackContents(t *testing.T) {
	p, store := testPipeline(t, newMemoryRepo(), testBackend())

	_, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-1", "name": " Blue  Dream ", "brand": "stiiizy", "strain": "OG Kush",
			"tags": []any{"Indica", "Sale"}, "price_cents": 1299},
	})
	require.NoError(t, err)

	pack := decodePacks(t, store)["sku-1"]
	require.NotNil(t, pack)

	assert.Equal(t, replay.PackVersion, pack.PackVersion)
	assert.Equal(t, testutil.MustTime("2026-03-14T09:30:00Z").Unix(), pack.ProducedAt)
	assert.Equal(t, "test", pack.Env)
	assert.Equal(t, "1.4.0", pack.AppVersion)
	assert.Equal(t, "0deadbeef42", pack.GitSHA)
	assert.Equal(t, "builtin.1", pack.RulesetVersion)
	assert.Equal(t, "treez.v1", pack.PayloadSchemaVersion)
	assert.Equal(t, "treez", pack.SourceID)
	assert.Equal(t, "sku-1", pack.ExternalID)
	assert.Equal(t, "ingest-000001", pack.IngestID)
	assert.Equal(t, replay.StatusCreated, pack.Status)

	expectedFlags, err := flag.FromValues(map[string]bool{
		"menu.autotag":       false,
		"menu.require_brand": false,
	})
	require.NoError(t, err)
	assert.Equal(t, expectedFlags.Version(), pack.FlagsVersion)
	assert.Equal(t, expectedFlags.Values(), pack.FlagsSnapshot)

	// Raw stays as received. The transform only trims; the canonical name
	// rule later collapses the inner whitespace. The consumed action key
	// never lands in the mapped payload.
	assert.Equal(t, " Blue  Dream ", pack.RawPayloadNormalized["name"])
	assert.Equal(t, "Blue  Dream", pack.MappedPayload["name"])
	assert.NotContains(t, pack.MappedPayload, "action")
	assert.EqualValues(t, 1299, pack.MappedPayload["price_cents"])

	assert.Equal(t, []string{rule.ChangedAll}, pack.ChangedKeys)
	assert.Equal(t, "Blue Dream", pack.Changes["name"])
	assert.Equal(t, "active", pack.Changes["status"])
	assert.EqualValues(t, 1299, pack.Changes["price_cents"])
	assert.EqualValues(t, 42, pack.Changes["brand_id"])
	assert.EqualValues(t, 11, pack.Changes["strain_id"])
	assert.Equal(t, []any{float64(3), float64(9)}, pack.Changes["tag_ids"])
	assert.Empty(t, pack.Violations)

	require.NotNil(t, pack.ResolverSnapshot)
	require.NotNil(t, pack.ResolverSnapshot.Brands["stiiizy"])
	assert.Equal(t, int64(42), pack.ResolverSnapshot.Brands["stiiizy"].ID)
	require.NotNil(t, pack.ResolverSnapshot.Strains["og kush"])
	assert.Equal(t, int64(11), pack.ResolverSnapshot.Strains["og kush"].ID)

	var order []string
	for _, entry := range pack.RulesOrder {
		order = append(order, entry.Name)
	}
	assert.Equal(t, []string{
		"normalize_fields_rule",
		"create_action_rule",
		"destroy_action_rule",
		"update_action_rule",
		"name_rule",
		"status_rule",
		"price_cents_rule",
		"brand_name_rule",
		"strain_name_rule",
		"tag_names_rule",
	}, order)
}

// Every pack a batch emits must replay without divergence against rulesets
// compiled from the same configuration. Covers each terminal status and
// every reject class that records fired rules.
func TestPackRoundTrip(t *testing.T) {
	backend := testBackend()
	backend.Products = []*catalog.MenuItem{
		existingItem("sku-2", "Old Name", 2500),
		existingItem("sku-3", "Sunset Sherbet", 2500),
		existingItem("sku-4", "Wedding Cake", 3000),
	}

	p, store := testPipeline(t, newMemoryRepo(), backend)
	_, err := p.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-1", "name": "Blue Dream", "brand": "STIIIZY", "strain": "OG Kush",
			"tags": []any{"Indica", "Sale"}, "price_cents": 1299},
		{"external_id": "sku-2", "name": "New Name", "price_cents": 2500, "status": "active"},
		{"external_id": "sku-3", "name": "Sunset Sherbet", "brand": "Phantom Farms",
			"price_cents": 2500, "status": "active"},
		{"external_id": "sku-4", "name": "Wedding Cake", "deleted_at": "2026-03-13T22:00:00Z"},
		{"external_id": "sku-5"},
		{"external_id": "sku-6", "name": "Phantom Item", "deleted_at": "2026-03-13T22:00:00Z"},
		{"external_id": "sku-7", "name": "Freebie", "price_cents": 0},
	})
	require.NoError(t, err)

	flagged, flaggedStore := testPipeline(t, newMemoryRepo(), testBackend(),
		WithFlags(flag.StaticProvider{"menu.require_brand": true}, flag.DefaultManifest))
	_, err = flagged.Run(context.Background(), "treez", []map[string]any{
		{"external_id": "sku-8", "name": "Blue Dream", "brand": "Phantom Farms"},
	})
	require.NoError(t, err)

	runner := replay.NewRunner(replay.Rulesets{
		Transformer: source.Treez().Transformer,
		Create:      DefaultCanonical(),
		Update:      DefaultCanonical(),
	})

	packs := decodePacks(t, store)
	for id, pack := range decodePacks(t, flaggedStore) {
		packs[id] = pack
	}
	require.Len(t, packs, 8)

	for id, pack := range packs {
		report, err := runner.Run(pack)
		require.NoError(t, err, "replay %s", id)

		if id == "sku-5" {
			assert.True(t, report.Skipped, "raw reject should skip")
			continue
		}
		assert.False(t, report.Skipped, "replay %s skipped", id)
		assert.False(t, report.Diverged(), "replay %s diverged: %+v", id, report.Divergences)
	}
}

func TestOutcomeHTTPStatus(t *testing.T) {
	tests := []struct {
		status string
		want   int
	}{
		{replay.StatusCreated, http.StatusCreated},
		{replay.StatusUpdated, http.StatusOK},
		{replay.StatusNoop, http.StatusOK},
		{replay.StatusDestroyed, http.StatusOK},
		{replay.StatusRejected, http.StatusUnprocessableEntity},
		{StatusProcessing, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome{Status: tt.status}.HTTPStatus())
		})
	}
}
