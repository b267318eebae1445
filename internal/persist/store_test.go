package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantlabs/menusync/internal/catalog"
	"github.com/verdantlabs/menusync/internal/lookup"
	"github.com/verdantlabs/menusync/internal/pipeline"
	"github.com/verdantlabs/menusync/internal/rule"
	"github.com/verdantlabs/menusync/internal/testutil"
)

var (
	_ pipeline.Repository = (*Store)(nil)
	_ lookup.Backend      = (*Store)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "menusync.db")
	s, err := Open("sqlite://" + path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedBrand(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	res, err := s.db.Exec("INSERT INTO brands (name) VALUES (?)", name)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func seedStrain(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	res, err := s.db.Exec("INSERT INTO strains (name) VALUES (?)", name)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func seedTag(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	res, err := s.db.Exec("INSERT INTO tags (name) VALUES (?)", name)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func fetchItem(t *testing.T, s *Store, sourceID, externalID string) *catalog.MenuItem {
	t.Helper()
	items, err := s.ProductsByExternalID(context.Background(), sourceID, []string{externalID})
	require.NoError(t, err)
	require.Contains(t, items, externalID)
	return items[externalID]
}

func TestOpenAppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menusync.db")

	s, err := Open("sqlite://" + path)
	require.NoError(t, err)

	for _, table := range []string{"brands", "strains", "tags", "menu_items", "menu_item_tags", "schema_migrations"} {
		var name string
		err := s.db.Get(&name, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
		assert.NoError(t, err, "table %s", table)
	}
	require.NoError(t, s.Close())

	// Reopening revalidates checksums instead of reapplying.
	s, err = Open("sqlite://" + path)
	require.NoError(t, err)
	var applied int
	require.NoError(t, s.db.Get(&applied, "SELECT COUNT(*) FROM schema_migrations"))
	assert.Equal(t, 1, applied)
	require.NoError(t, s.Close())
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open("mysql://localhost/menusync")
	require.ErrorContains(t, err, "unsupported database scheme")
}

func TestOpenRejectsEditedMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menusync.db")

	s, err := Open("sqlite://" + path)
	require.NoError(t, err)
	_, err = s.db.Exec("UPDATE schema_migrations SET checksum = 'deadbeef'")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open("sqlite://" + path)
	require.ErrorContains(t, err, "changed after it was applied")
}

func TestCreateInsertsRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := testutil.MustTime("2026-03-14T09:30:00Z")

	brandID := seedBrand(t, s, "STIIIZY")
	strainID := seedStrain(t, s, "OG Kush")
	indica := seedTag(t, s, "Indica")
	sale := seedTag(t, s, "Sale")

	err := s.Create(ctx, "treez", "sku-1", rule.Patch{
		"name":        "Blue Dream",
		"status":      "active",
		"price_cents": int64(1299),
		"brand_id":    brandID,
		"strain_id":   strainID,
		"tag_ids":     []int64{sale, indica},
	}, now)
	require.NoError(t, err)

	item := fetchItem(t, s, "treez", "sku-1")
	assert.Equal(t, "Blue Dream", item.Name)
	assert.Equal(t, "active", item.Status)
	require.NotNil(t, item.PriceCents)
	assert.Equal(t, int64(1299), *item.PriceCents)
	require.NotNil(t, item.BrandID)
	assert.Equal(t, brandID, *item.BrandID)
	require.NotNil(t, item.StrainID)
	assert.Equal(t, strainID, *item.StrainID)
	assert.Equal(t, []int64{indica, sale}, item.TagIDs)
	assert.Equal(t, int64(1), item.Revision)
	assert.False(t, item.Deleted())
	assert.Empty(t, item.DeleteReason)
	assert.WithinDuration(t, now, item.CreatedAt, 0)
	assert.WithinDuration(t, now, item.UpdatedAt, 0)
}

func TestCreateRedeliveryKeepsRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := testutil.MustTime("2026-03-14T09:30:00Z")

	changes := rule.Patch{"name": "Sour Diesel", "status": "active"}
	require.NoError(t, s.Create(ctx, "treez", "sku-1", changes, now))
	require.NoError(t, s.Create(ctx, "treez", "sku-1", changes, now.Add(time.Hour)))

	var count int
	require.NoError(t, s.db.Get(&count, "SELECT COUNT(*) FROM menu_items"))
	assert.Equal(t, 1, count)

	item := fetchItem(t, s, "treez", "sku-1")
	assert.Equal(t, int64(1), item.Revision)
	assert.WithinDuration(t, now, item.CreatedAt, 0)
}

func TestUpdateBumpsRevision(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := testutil.MustTime("2026-03-14T09:30:00Z")
	updated := created.Add(time.Hour)

	require.NoError(t, s.Create(ctx, "treez", "sku-1", rule.Patch{"name": "Old Name", "status": "active"}, created))
	current := fetchItem(t, s, "treez", "sku-1")

	require.NoError(t, s.Update(ctx, current, rule.Patch{"name": "New Name"}, updated))

	item := fetchItem(t, s, "treez", "sku-1")
	assert.Equal(t, "New Name", item.Name)
	assert.Equal(t, "active", item.Status)
	assert.Equal(t, int64(2), item.Revision)
	assert.WithinDuration(t, created, item.CreatedAt, 0)
	assert.WithinDuration(t, updated, item.UpdatedAt, 0)
}

func TestUpdateSilentSkipsRevisionAndTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := testutil.MustTime("2026-03-14T09:30:00Z")

	require.NoError(t, s.Create(ctx, "treez", "sku-1", rule.Patch{
		"name":        "Blue Dream",
		"status":      "active",
		"price_cents": int64(1299),
	}, created))
	current := fetchItem(t, s, "treez", "sku-1")

	require.NoError(t, s.UpdateSilent(ctx, current, rule.Patch{"price_cents": int64(999)}))

	item := fetchItem(t, s, "treez", "sku-1")
	require.NotNil(t, item.PriceCents)
	assert.Equal(t, int64(999), *item.PriceCents)
	assert.Equal(t, int64(1), item.Revision)
	assert.WithinDuration(t, created, item.UpdatedAt, 0)
}

func TestUpdateSyncsTags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := testutil.MustTime("2026-03-14T09:30:00Z")

	indica := seedTag(t, s, "Indica")
	sale := seedTag(t, s, "Sale")
	staff := seedTag(t, s, "Staff Pick")

	require.NoError(t, s.Create(ctx, "treez", "sku-1", rule.Patch{
		"name":    "Blue Dream",
		"status":  "active",
		"tag_ids": []int64{indica, sale},
	}, now))
	current := fetchItem(t, s, "treez", "sku-1")

	require.NoError(t, s.Update(ctx, current, rule.Patch{"tag_ids": []int64{staff, sale}}, now.Add(time.Hour)))

	item := fetchItem(t, s, "treez", "sku-1")
	assert.Equal(t, []int64{sale, staff}, item.TagIDs)
}

func TestUpdateClearsOptionalField(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := testutil.MustTime("2026-03-14T09:30:00Z")

	brandID := seedBrand(t, s, "Raw Garden")
	require.NoError(t, s.Create(ctx, "treez", "sku-1", rule.Patch{
		"name":     "Blue Dream",
		"status":   "active",
		"brand_id": brandID,
	}, now))
	current := fetchItem(t, s, "treez", "sku-1")

	require.NoError(t, s.Update(ctx, current, rule.Patch{"brand_id": nil}, now.Add(time.Hour)))

	item := fetchItem(t, s, "treez", "sku-1")
	assert.Nil(t, item.BrandID)
}

func TestDestroyWritesTombstone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := testutil.MustTime("2026-03-14T09:30:00Z")
	destroyed := created.Add(2 * time.Hour)

	indica := seedTag(t, s, "Indica")
	require.NoError(t, s.Create(ctx, "treez", "sku-1", rule.Patch{
		"name":    "Blue Dream",
		"status":  "active",
		"tag_ids": []int64{indica},
	}, created))
	current := fetchItem(t, s, "treez", "sku-1")

	require.NoError(t, s.Destroy(ctx, current, pipeline.DestroyReason, destroyed))

	item := fetchItem(t, s, "treez", "sku-1")
	require.True(t, item.Deleted())
	assert.WithinDuration(t, destroyed, *item.DeletedAt, 0)
	assert.Equal(t, pipeline.DestroyReason, item.DeleteReason)
	assert.Equal(t, int64(2), item.Revision)
	assert.WithinDuration(t, destroyed, item.UpdatedAt, 0)
	assert.Equal(t, []int64{indica}, item.TagIDs, "tag links survive the tombstone")
}

func TestBrandsByNameNormalizes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stiiizy := seedBrand(t, s, "STIIIZY")
	seedBrand(t, s, "Raw Garden")

	brands, err := s.BrandsByName(ctx, []string{"stiiizy", "phantom farms"})
	require.NoError(t, err)
	require.Contains(t, brands, "stiiizy")
	assert.Equal(t, stiiizy, brands["stiiizy"].ID)
	assert.Equal(t, "STIIIZY", brands["stiiizy"].Name)
	assert.NotContains(t, brands, "phantom farms")

	empty, err := s.BrandsByName(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUpsertReferenceRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBrand(ctx, catalog.Brand{ID: 42, Name: "Acme Farms"}))
	require.NoError(t, s.UpsertStrain(ctx, catalog.Strain{ID: 7, Name: "Blue Dream"}))
	require.NoError(t, s.UpsertTag(ctx, catalog.Tag{ID: 3, Name: "Indica"}))

	brands, err := s.BrandsByName(ctx, []string{"acme farms"})
	require.NoError(t, err)
	require.Contains(t, brands, "acme farms")
	assert.Equal(t, int64(42), brands["acme farms"].ID)

	// Re-upserting the same id replaces the name instead of erroring.
	require.NoError(t, s.UpsertBrand(ctx, catalog.Brand{ID: 42, Name: "Acme Farms LLC"}))
	brands, err = s.BrandsByName(ctx, []string{"acme farms llc"})
	require.NoError(t, err)
	require.Contains(t, brands, "acme farms llc")
	assert.Equal(t, int64(42), brands["acme farms llc"].ID)

	var count int
	require.NoError(t, s.db.Get(&count, "SELECT COUNT(*) FROM brands"))
	assert.Equal(t, 1, count)
}

func TestTagAndStrainLookups(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	kush := seedStrain(t, s, "OG Kush")
	indica := seedTag(t, s, "Indica")

	strains, err := s.StrainsByName(ctx, []string{"og kush"})
	require.NoError(t, err)
	require.Contains(t, strains, "og kush")
	assert.Equal(t, kush, strains["og kush"].ID)

	tags, err := s.TagsByName(ctx, []string{"indica", "sativa"})
	require.NoError(t, err)
	require.Contains(t, tags, "indica")
	assert.Equal(t, indica, tags["indica"].ID)
	assert.NotContains(t, tags, "sativa")
}

func TestProductsByExternalIDScopedToSource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := testutil.MustTime("2026-03-14T09:30:00Z")

	require.NoError(t, s.Create(ctx, "treez", "sku-1", rule.Patch{"name": "Treez Item", "status": "active"}, now))
	require.NoError(t, s.Create(ctx, "dutchie", "sku-1", rule.Patch{"name": "Dutchie Item", "status": "active"}, now))

	items, err := s.ProductsByExternalID(ctx, "treez", []string{"sku-1", "sku-404"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Treez Item", items["sku-1"].Name)
	assert.Equal(t, "treez", items["sku-1"].SourceID)

	empty, err := s.ProductsByExternalID(ctx, "treez", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestApplyPatchCoercion(t *testing.T) {
	item := &catalog.MenuItem{}
	err := applyPatch(item, rule.Patch{
		"price_cents": float64(1299),
		"tag_ids":     []any{float64(3), int64(9)},
	})
	require.NoError(t, err)
	require.NotNil(t, item.PriceCents)
	assert.Equal(t, int64(1299), *item.PriceCents)
	assert.Equal(t, []int64{3, 9}, item.TagIDs)

	err = applyPatch(item, rule.Patch{"price_cents": 12.5})
	require.ErrorContains(t, err, "expected integer")

	err = applyPatch(item, rule.Patch{"bogus": 1})
	require.ErrorContains(t, err, `unknown canonical field "bogus"`)
}
