package persist

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/verdantlabs/menusync/internal/catalog"
	"github.com/verdantlabs/menusync/internal/lookup"
	"github.com/verdantlabs/menusync/internal/rule"
)

// Store is the SQL repository for canonical menu items. It is both the
// pipeline's write side (Repository) and the preloader's read side (Backend),
// so a batch observes and mutates the same database.
type Store struct {
	db *sqlx.DB
	q  *queries
}

// Open connects to the database named by the URL, applies pending migrations
// and loads the named queries. Idempotent; safe to call on every start.
func Open(databaseURL string) (*Store, error) {
	db, err := openDB(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	q, err := loadQueries()
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, q: q}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new canonical record built from the changeset. The insert
// is idempotent: ON CONFLICT (source_id, external_id) DO NOTHING absorbs
// redelivered batches, and the tag sync converges either way.
func (s *Store) Create(ctx context.Context, sourceID, externalID string, changes rule.Patch, now time.Time) error {
	item := &catalog.MenuItem{SourceID: sourceID, ExternalID: externalID, Status: catalog.StatusActive}
	if err := applyPatch(item, changes); err != nil {
		return fmt.Errorf("create %s/%s: %w", sourceID, externalID, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create %s/%s: begin: %w", sourceID, externalID, err)
	}
	defer tx.Rollback()

	if _, err := s.q.exec(ctx, tx, "menu-item-insert",
		item.SourceID, item.ExternalID, item.Name,
		item.BrandID, item.StrainID, item.PriceCents, item.Status,
		now, now,
	); err != nil {
		return fmt.Errorf("create %s/%s: %w", sourceID, externalID, err)
	}

	// The row may predate this call; fetch the id either way.
	var id int64
	if err := s.q.get(ctx, tx, &id, "menu-item-id", sourceID, externalID); err != nil {
		return fmt.Errorf("create %s/%s: resolve id: %w", sourceID, externalID, err)
	}

	if _, ok := changes["tag_ids"]; ok {
		if err := s.syncTags(ctx, tx, id, item.TagIDs); err != nil {
			return fmt.Errorf("create %s/%s: %w", sourceID, externalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create %s/%s: commit: %w", sourceID, externalID, err)
	}
	return nil
}

// Update applies the changeset to an existing record, bumping revision and
// stamping updated_at with the batch timestamp.
func (s *Store) Update(ctx context.Context, current *catalog.MenuItem, changes rule.Patch, now time.Time) error {
	merged := current.Clone()
	if err := applyPatch(merged, changes); err != nil {
		return fmt.Errorf("update %s/%s: %w", current.SourceID, current.ExternalID, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update %s/%s: begin: %w", current.SourceID, current.ExternalID, err)
	}
	defer tx.Rollback()

	if _, err := s.q.exec(ctx, tx, "menu-item-update",
		merged.Name, merged.ExternalID, merged.BrandID, merged.StrainID, merged.PriceCents, merged.Status,
		current.Revision+1, now, current.ID,
	); err != nil {
		return fmt.Errorf("update %s/%s: %w", current.SourceID, current.ExternalID, err)
	}

	if _, ok := changes["tag_ids"]; ok {
		if err := s.syncTags(ctx, tx, current.ID, merged.TagIDs); err != nil {
			return fmt.Errorf("update %s/%s: %w", current.SourceID, current.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update %s/%s: commit: %w", current.SourceID, current.ExternalID, err)
	}
	return nil
}

// UpdateSilent applies the changeset without touching updated_at or revision.
// The pipeline routes an update here when every changed key lies in the
// source's silent set.
func (s *Store) UpdateSilent(ctx context.Context, current *catalog.MenuItem, changes rule.Patch) error {
	merged := current.Clone()
	if err := applyPatch(merged, changes); err != nil {
		return fmt.Errorf("silent update %s/%s: %w", current.SourceID, current.ExternalID, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("silent update %s/%s: begin: %w", current.SourceID, current.ExternalID, err)
	}
	defer tx.Rollback()

	if _, err := s.q.exec(ctx, tx, "menu-item-update-silent",
		merged.Name, merged.ExternalID, merged.BrandID, merged.StrainID, merged.PriceCents, merged.Status,
		current.ID,
	); err != nil {
		return fmt.Errorf("silent update %s/%s: %w", current.SourceID, current.ExternalID, err)
	}

	if _, ok := changes["tag_ids"]; ok {
		if err := s.syncTags(ctx, tx, current.ID, merged.TagIDs); err != nil {
			return fmt.Errorf("silent update %s/%s: %w", current.SourceID, current.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("silent update %s/%s: commit: %w", current.SourceID, current.ExternalID, err)
	}
	return nil
}

// Destroy soft-deletes the record: tombstone timestamp plus reason, revision
// bump, updated_at stamped. The row and its tag links survive for replay and
// audit reads.
func (s *Store) Destroy(ctx context.Context, current *catalog.MenuItem, reason string, now time.Time) error {
	if _, err := s.q.exec(ctx, s.db, "menu-item-destroy",
		now, reason, current.Revision+1, now, current.ID,
	); err != nil {
		return fmt.Errorf("destroy %s/%s: %w", current.SourceID, current.ExternalID, err)
	}
	return nil
}

// UpsertBrand writes a brand row under its explicit id, updating the name on
// conflict. Reference rows arrive from catalog syncs with authoritative ids.
func (s *Store) UpsertBrand(ctx context.Context, brand catalog.Brand) error {
	if _, err := s.q.exec(ctx, s.db, "brand-upsert", brand.ID, brand.Name); err != nil {
		return fmt.Errorf("upsert brand %d: %w", brand.ID, err)
	}
	return nil
}

// UpsertStrain writes a strain row under its explicit id.
func (s *Store) UpsertStrain(ctx context.Context, strain catalog.Strain) error {
	if _, err := s.q.exec(ctx, s.db, "strain-upsert", strain.ID, strain.Name); err != nil {
		return fmt.Errorf("upsert strain %d: %w", strain.ID, err)
	}
	return nil
}

// UpsertTag writes a tag row under its explicit id.
func (s *Store) UpsertTag(ctx context.Context, tag catalog.Tag) error {
	if _, err := s.q.exec(ctx, s.db, "tag-upsert", tag.ID, tag.Name); err != nil {
		return fmt.Errorf("upsert tag %d: %w", tag.ID, err)
	}
	return nil
}

// syncTags replaces the item's tag links with the given set.
func (s *Store) syncTags(ctx context.Context, tx *sqlx.Tx, itemID int64, tagIDs []int64) error {
	if _, err := s.q.exec(ctx, tx, "menu-item-tags-delete", itemID); err != nil {
		return fmt.Errorf("sync tags: %w", err)
	}
	sorted := make([]int64, len(tagIDs))
	copy(sorted, tagIDs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, tagID := range sorted {
		if _, err := s.q.exec(ctx, tx, "menu-item-tags-insert", itemID, tagID); err != nil {
			return fmt.Errorf("sync tags: %w", err)
		}
	}
	return nil
}

// BrandsByName implements lookup.Backend. Reference tables are small, so one
// scan per batch is read and keyed in Go with the Unicode-aware normalizer
// rather than approximating it in SQL. Lowest id wins a normalized-name tie.
func (s *Store) BrandsByName(ctx context.Context, names []string) (map[string]catalog.Brand, error) {
	out := map[string]catalog.Brand{}
	if len(names) == 0 {
		return out, nil
	}
	var rows []catalog.Brand
	if err := s.q.selectAll(ctx, s.db, &rows, "brands-all"); err != nil {
		return nil, fmt.Errorf("brands by name: %w", err)
	}
	want := nameSet(names)
	for _, b := range rows {
		key := lookup.NormalizeKey(b.Name)
		if _, hit := out[key]; want[key] && !hit {
			out[key] = b
		}
	}
	return out, nil
}

// StrainsByName implements lookup.Backend.
func (s *Store) StrainsByName(ctx context.Context, names []string) (map[string]catalog.Strain, error) {
	out := map[string]catalog.Strain{}
	if len(names) == 0 {
		return out, nil
	}
	var rows []catalog.Strain
	if err := s.q.selectAll(ctx, s.db, &rows, "strains-all"); err != nil {
		return nil, fmt.Errorf("strains by name: %w", err)
	}
	want := nameSet(names)
	for _, st := range rows {
		key := lookup.NormalizeKey(st.Name)
		if _, hit := out[key]; want[key] && !hit {
			out[key] = st
		}
	}
	return out, nil
}

// TagsByName implements lookup.Backend.
func (s *Store) TagsByName(ctx context.Context, names []string) (map[string]catalog.Tag, error) {
	out := map[string]catalog.Tag{}
	if len(names) == 0 {
		return out, nil
	}
	var rows []catalog.Tag
	if err := s.q.selectAll(ctx, s.db, &rows, "tags-all"); err != nil {
		return nil, fmt.Errorf("tags by name: %w", err)
	}
	want := nameSet(names)
	for _, tag := range rows {
		key := lookup.NormalizeKey(tag.Name)
		if _, hit := out[key]; want[key] && !hit {
			out[key] = tag
		}
	}
	return out, nil
}

// ProductsByExternalID implements lookup.Backend. Soft-deleted rows are
// returned too: the pipeline needs tombstones to classify redeliveries.
func (s *Store) ProductsByExternalID(ctx context.Context, sourceID string, externalIDs []string) (map[string]*catalog.MenuItem, error) {
	out := map[string]*catalog.MenuItem{}
	if len(externalIDs) == 0 {
		return out, nil
	}

	var items []catalog.MenuItem
	if err := s.q.selectIn(ctx, s.db, &items, "menu-items-by-external-id", sourceID, externalIDs); err != nil {
		return nil, fmt.Errorf("products by external id: %w", err)
	}
	if len(items) == 0 {
		return out, nil
	}

	ids := make([]int64, len(items))
	index := map[int64]*catalog.MenuItem{}
	for i := range items {
		ids[i] = items[i].ID
		index[items[i].ID] = &items[i]
	}

	var links []itemTagRow
	if err := s.q.selectIn(ctx, s.db, &links, "menu-item-tags-for-items", ids); err != nil {
		return nil, fmt.Errorf("products by external id: tags: %w", err)
	}
	for _, link := range links {
		item := index[link.MenuItemID]
		item.TagIDs = append(item.TagIDs, link.TagID)
	}

	for i := range items {
		out[items[i].ExternalID] = &items[i]
	}
	return out, nil
}

type itemTagRow struct {
	MenuItemID int64 `db:"menu_item_id"`
	TagID      int64 `db:"tag_id"`
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// applyPatch maps canonical changeset keys onto record fields. Values arrive
// from rules as native Go types or, via replay, as JSON-decoded numbers; both
// are accepted. A nil value clears an optional field.
func applyPatch(item *catalog.MenuItem, changes rule.Patch) error {
	for key, value := range changes {
		switch key {
		case "name":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("field %q: expected string, got %T", key, value)
			}
			item.Name = s
		case "status":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("field %q: expected string, got %T", key, value)
			}
			item.Status = s
		case "external_id":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("field %q: expected string, got %T", key, value)
			}
			item.ExternalID = s
		case "price_cents":
			ptr, err := toInt64Ptr(value)
			if err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			item.PriceCents = ptr
		case "brand_id":
			ptr, err := toInt64Ptr(value)
			if err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			item.BrandID = ptr
		case "strain_id":
			ptr, err := toInt64Ptr(value)
			if err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			item.StrainID = ptr
		case "tag_ids":
			ids, err := toInt64Slice(value)
			if err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			item.TagIDs = ids
		default:
			return fmt.Errorf("unknown canonical field %q", key)
		}
	}
	return nil
}

func toInt64Ptr(value any) (*int64, error) {
	if value == nil {
		return nil, nil
	}
	n, err := toInt64(value)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
}

func toInt64Slice(value any) ([]int64, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []int64:
		out := make([]int64, len(v))
		copy(out, v)
		return out, nil
	case []any:
		out := make([]int64, 0, len(v))
		for _, elem := range v {
			n, err := toInt64(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected integer list, got %T", value)
	}
}
