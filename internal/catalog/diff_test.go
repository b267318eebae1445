package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueEqualScalars(t *testing.T) {
	tests := []struct {
		name  string
		a, b  any
		equal bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs string", nil, "x", false},
		{"equal strings", "indica", "indica", true},
		{"different strings", "indica", "sativa", false},
		{"string vs int", "42", 42, false},
		{"equal bools", true, true, true},
		{"different bools", true, false, false},
		{"int vs int64", 42, int64(42), true},
		{"int64 vs integral float64", int64(1099), float64(1099), true},
		{"int64 vs fractional float64", int64(10), float64(10.5), false},
		{"json.Number vs int", json.Number("7"), 7, true},
		{"fractional numbers", json.Number("10.5"), 10.5, true},
		{"floats equal", 1.25, 1.25, true},
		{"floats differ", 1.25, 1.5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, ValueEqual(tt.a, tt.b))
		})
	}
}

func TestValueEqualNilVsEmptyArray(t *testing.T) {
	assert.True(t, ValueEqual(nil, []any{}))
	assert.True(t, ValueEqual([]any{}, nil))
	assert.True(t, ValueEqual(nil, []int64{}))
	assert.True(t, ValueEqual([]string{}, nil))
	assert.False(t, ValueEqual(nil, []any{"organic"}))
	assert.False(t, ValueEqual([]int64{1}, nil))
}

func TestValueEqualArrays(t *testing.T) {
	tests := []struct {
		name  string
		a, b  any
		equal bool
	}{
		{"equal any slices", []any{"a", "b"}, []any{"a", "b"}, true},
		{"order matters", []any{"a", "b"}, []any{"b", "a"}, false},
		{"length differs", []any{"a"}, []any{"a", "b"}, false},
		{"int64 vs any with float", []int64{1, 2}, []any{float64(1), float64(2)}, true},
		{"string slice vs any", []string{"x"}, []any{"x"}, true},
		{"nested arrays", []any{[]any{1}}, []any{[]any{int64(1)}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, ValueEqual(tt.a, tt.b))
		})
	}
}

func TestValueEqualObjects(t *testing.T) {
	a := map[string]any{"name": "OG Kush", "price_cents": int64(1099)}
	b := map[string]any{"name": "OG Kush", "price_cents": float64(1099)}
	assert.True(t, ValueEqual(a, b))

	c := map[string]any{"name": "OG Kush"}
	assert.False(t, ValueEqual(a, c))
	assert.False(t, ValueEqual(a, map[string]any{"name": "OG Kush", "price_cents": int64(999)}))
}

func TestChangedKeys(t *testing.T) {
	current := map[string]any{
		"name":        "OG Kush",
		"brand_id":    int64(42),
		"price_cents": int64(1099),
		"tag_ids":     nil,
		"status":      "active",
	}
	incoming := map[string]any{
		"name":        "OG Kush",
		"price_cents": float64(1299),
		"tag_ids":     []any{},
		"status":      "inactive",
	}

	keys := ChangedKeys(current, incoming)
	assert.Equal(t, []string{"price_cents", "status"}, keys)
}

func TestChangedKeysPartialPayload(t *testing.T) {
	// Keys absent from the incoming payload are not changes.
	current := map[string]any{"name": "OG Kush", "status": "active"}
	incoming := map[string]any{"name": "OG Kush"}

	assert.Empty(t, ChangedKeys(current, incoming))
}

func TestChangedKeysAllDiffer(t *testing.T) {
	current := map[string]any{}
	incoming := map[string]any{"b": 1, "a": 2}

	assert.Equal(t, []string{"a", "b"}, ChangedKeys(current, incoming))
}

func TestMenuItemProjection(t *testing.T) {
	brand := int64(42)
	price := int64(1099)
	item := &MenuItem{
		ExternalID: "sku-1",
		Name:       "OG Kush",
		BrandID:    &brand,
		PriceCents: &price,
		TagIDs:     []int64{7, 9},
		Status:     StatusActive,
	}

	proj := item.Projection()
	assert.Equal(t, "sku-1", proj["external_id"])
	assert.Equal(t, int64(42), proj["brand_id"])
	assert.Nil(t, proj["strain_id"])
	assert.Equal(t, []int64{7, 9}, proj["tag_ids"])

	// Unchanged payload diffs to nothing.
	incoming := map[string]any{
		"external_id": "sku-1",
		"name":        "OG Kush",
		"brand_id":    float64(42),
		"price_cents": float64(1099),
		"tag_ids":     []any{float64(7), float64(9)},
		"status":      "active",
	}
	assert.Empty(t, ChangedKeys(proj, incoming))
}

func TestMenuItemClone(t *testing.T) {
	brand := int64(1)
	item := &MenuItem{Name: "A", BrandID: &brand, TagIDs: []int64{1, 2}}

	clone := item.Clone()
	*clone.BrandID = 99
	clone.TagIDs[0] = 99

	assert.Equal(t, int64(1), *item.BrandID)
	assert.Equal(t, int64(1), item.TagIDs[0])

	var missing *MenuItem
	assert.Nil(t, missing.Clone())
	assert.False(t, missing.Deleted())
}
