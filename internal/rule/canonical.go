package rule

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Canonical-stage rules build the changes applied to the catalog record.
// Each gates on the item's changed-key set, so update items only rebuild
// fields whose incoming values actually differ, while create items (whose
// changed set is the "all" sentinel) build everything their payload carries.

// NameRule normalizes the display name: NFC, trimmed, inner whitespace
// collapsed.
type NameRule struct{}

// NewNameRule is the registry factory for class "name_rule".
func NewNameRule(params map[string]any) (Rule, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}
	return &NameRule{}, nil
}

func (r *NameRule) Meta() Meta {
	return Meta{
		Name:     "name_rule",
		Priority: 10,
		Reads:    []string{"name"},
		Writes:   []string{"name"},
	}
}

func (r *NameRule) Applies(ctx *Context) bool {
	_, ok := nonBlank(ctx, "name")
	return ok && ctx.Changed("name")
}

func (r *NameRule) Apply(ctx *Context) (Patch, error) {
	s, _ := nonBlank(ctx, "name")
	normalized := strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	return Patch{"name": normalized}, nil
}

// StatusRule carries the item status through. Create items default to
// "active" when the payload has none; update items only write on change.
type StatusRule struct{}

// NewStatusRule is the registry factory for class "status_rule".
func NewStatusRule(params map[string]any) (Rule, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}
	return &StatusRule{}, nil
}

func (r *StatusRule) Meta() Meta {
	return Meta{
		Name:     "status_rule",
		Priority: 20,
		Reads:    []string{"status"},
		Writes:   []string{"status"},
	}
}

func (r *StatusRule) Applies(ctx *Context) bool {
	if ctx.Action == ActionCreate {
		return true
	}
	_, ok := nonBlank(ctx, "status")
	return ok && ctx.Changed("status")
}

func (r *StatusRule) Apply(ctx *Context) (Patch, error) {
	if s, ok := nonBlank(ctx, "status"); ok {
		return Patch{"status": strings.ToLower(s)}, nil
	}
	if ctx.Action == ActionCreate {
		return Patch{"status": "active"}, nil
	}
	return Patch{}, nil
}

// PriceCentsRule carries the integer price through.
type PriceCentsRule struct{}

// NewPriceCentsRule is the registry factory for class "price_cents_rule".
func NewPriceCentsRule(params map[string]any) (Rule, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}
	return &PriceCentsRule{}, nil
}

func (r *PriceCentsRule) Meta() Meta {
	return Meta{
		Name:     "price_cents_rule",
		Priority: 30,
		Reads:    []string{"price_cents"},
		Writes:   []string{"price_cents"},
	}
}

func (r *PriceCentsRule) Applies(ctx *Context) bool {
	return ctx.Has("price_cents") && ctx.Changed("price_cents")
}

func (r *PriceCentsRule) Apply(ctx *Context) (Patch, error) {
	v, ok := intValue(ctx.Get("price_cents"))
	if !ok {
		return nil, fmt.Errorf("price_cents: not an integer: %v", ctx.Get("price_cents"))
	}
	return Patch{"price_cents": v}, nil
}

// BrandNameRule resolves the payload brand name to a brand ID. Unresolved
// names drop the write; a required brand (param or flag) rejects create
// items instead.
type BrandNameRule struct {
	required bool
}

// NewBrandNameRule is the registry factory for class "brand_name_rule".
// Params: required (bool, default false).
func NewBrandNameRule(params map[string]any) (Rule, error) {
	if err := checkParams(params, "required"); err != nil {
		return nil, err
	}
	required, err := boolParam(params, "required", false)
	if err != nil {
		return nil, err
	}
	return &BrandNameRule{required: required}, nil
}

func (r *BrandNameRule) Meta() Meta {
	return Meta{
		Name:     "brand_name_rule",
		Priority: 40,
		Reads:    []string{"brand"},
		Writes:   []string{"brand_id"},
		Flags:    []string{"menu.require_brand"},
	}
}

func (r *BrandNameRule) Applies(ctx *Context) bool {
	_, ok := nonBlank(ctx, "brand")
	return ok && ctx.Changed("brand")
}

func (r *BrandNameRule) Apply(ctx *Context) (Patch, error) {
	name, _ := nonBlank(ctx, "brand")
	brand, ok := ctx.Brand(name)
	if !ok {
		if ctx.Action == ActionCreate && (r.required || ctx.Flag("menu.require_brand")) {
			return nil, &RefMissError{Field: "brand", Value: name}
		}
		// Unresolved references drop the write, never null the column.
		return Patch{}, nil
	}
	return Patch{"brand_id": brand.ID}, nil
}

// StrainNameRule resolves the payload strain name to a strain ID.
type StrainNameRule struct {
	required bool
}

// NewStrainNameRule is the registry factory for class "strain_name_rule".
// Params: required (bool, default false).
func NewStrainNameRule(params map[string]any) (Rule, error) {
	if err := checkParams(params, "required"); err != nil {
		return nil, err
	}
	required, err := boolParam(params, "required", false)
	if err != nil {
		return nil, err
	}
	return &StrainNameRule{required: required}, nil
}

func (r *StrainNameRule) Meta() Meta {
	return Meta{
		Name:     "strain_name_rule",
		Priority: 50,
		Reads:    []string{"strain"},
		Writes:   []string{"strain_id"},
	}
}

func (r *StrainNameRule) Applies(ctx *Context) bool {
	_, ok := nonBlank(ctx, "strain")
	return ok && ctx.Changed("strain")
}

func (r *StrainNameRule) Apply(ctx *Context) (Patch, error) {
	name, _ := nonBlank(ctx, "strain")
	strain, ok := ctx.Strain(name)
	if !ok {
		if ctx.Action == ActionCreate && r.required {
			return nil, &RefMissError{Field: "strain", Value: name}
		}
		return Patch{}, nil
	}
	return Patch{"strain_id": strain.ID}, nil
}

// TagNamesRule resolves payload tag names (plus autotagger suggestions when
// menu.autotag is on) to tag IDs. Unresolved names are dropped one by one;
// duplicates collapse keeping first occurrence order.
type TagNamesRule struct{}

// NewTagNamesRule is the registry factory for class "tag_names_rule".
func NewTagNamesRule(params map[string]any) (Rule, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}
	return &TagNamesRule{}, nil
}

func (r *TagNamesRule) Meta() Meta {
	return Meta{
		Name:     "tag_names_rule",
		Priority: 60,
		Reads:    []string{"tags"},
		Writes:   []string{"tag_ids"},
		Flags:    []string{"menu.autotag"},
	}
}

func (r *TagNamesRule) Applies(ctx *Context) bool {
	if _, ok := ctx.Payload["tags"].([]any); ok && ctx.Changed("tags") {
		return true
	}
	return ctx.Flag("menu.autotag") && len(ctx.Suggestions()) > 0
}

func (r *TagNamesRule) Apply(ctx *Context) (Patch, error) {
	var names []string
	if list, ok := ctx.Payload["tags"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
	}
	if ctx.Flag("menu.autotag") {
		names = append(names, ctx.Suggestions()...)
	}

	ids := []int64{}
	seen := map[int64]bool{}
	for _, name := range names {
		tag, ok := ctx.Tag(name)
		if !ok {
			continue
		}
		if seen[tag.ID] {
			continue
		}
		seen[tag.ID] = true
		ids = append(ids, tag.ID)
	}
	return Patch{"tag_ids": ids}, nil
}
