// Package catalog defines the canonical menu-item record and the semantic
// value comparison used to diff incoming payloads against it.
package catalog

import "time"

// Item statuses persisted on the canonical record.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// MenuItem is the canonical catalog record reconciled by the pipeline.
// SourceID + ExternalID identify an item uniquely across batches.
type MenuItem struct {
	ID           int64      `json:"id" db:"id"`
	SourceID     string     `json:"source_id" db:"source_id"`
	ExternalID   string     `json:"external_id" db:"external_id"`
	Name         string     `json:"name" db:"name"`
	BrandID      *int64     `json:"brand_id,omitempty" db:"brand_id"`
	StrainID     *int64     `json:"strain_id,omitempty" db:"strain_id"`
	TagIDs       []int64    `json:"tag_ids,omitempty" db:"-"`
	PriceCents   *int64     `json:"price_cents,omitempty" db:"price_cents"`
	Status       string     `json:"status" db:"status"`
	Revision     int64      `json:"revision" db:"revision"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	DeleteReason string     `json:"delete_reason,omitempty" db:"delete_reason"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Brand is a referenced brand row preloaded per batch.
type Brand struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Strain is a referenced strain row preloaded per batch.
type Strain struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Tag is a referenced tag row preloaded per batch.
type Tag struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Deleted reports whether the record carries a tombstone.
func (m *MenuItem) Deleted() bool {
	return m != nil && m.DeletedAt != nil
}

// Projection returns the record's canonical field view used for diffing
// against a mapped payload. Keys match the canonical payload field names;
// unset optional references project as nil.
func (m *MenuItem) Projection() map[string]any {
	proj := map[string]any{
		"external_id": m.ExternalID,
		"name":        m.Name,
		"status":      m.Status,
	}
	if m.BrandID != nil {
		proj["brand_id"] = *m.BrandID
	} else {
		proj["brand_id"] = nil
	}
	if m.StrainID != nil {
		proj["strain_id"] = *m.StrainID
	} else {
		proj["strain_id"] = nil
	}
	if m.PriceCents != nil {
		proj["price_cents"] = *m.PriceCents
	} else {
		proj["price_cents"] = nil
	}
	if m.TagIDs != nil {
		proj["tag_ids"] = m.TagIDs
	} else {
		proj["tag_ids"] = nil
	}
	return proj
}

// Clone returns a deep copy. Pipeline stages never mutate a shared record.
func (m *MenuItem) Clone() *MenuItem {
	if m == nil {
		return nil
	}
	out := *m
	if m.BrandID != nil {
		v := *m.BrandID
		out.BrandID = &v
	}
	if m.StrainID != nil {
		v := *m.StrainID
		out.StrainID = &v
	}
	if m.PriceCents != nil {
		v := *m.PriceCents
		out.PriceCents = &v
	}
	if m.DeletedAt != nil {
		v := *m.DeletedAt
		out.DeletedAt = &v
	}
	if m.TagIDs != nil {
		out.TagIDs = make([]int64, len(m.TagIDs))
		copy(out.TagIDs, m.TagIDs)
	}
	return &out
}
