package rule

import "strings"

// Transform-stage rules run over the normalized raw payload before the
// canonical stage. They clean vendor field values and classify the item's
// action; the action patch key is reserved and consumed by the processor.

// NormalizeFieldsRule trims string fields, lowercases status, coerces
// price_cents to an integer and drops blank tag entries. It writes only
// keys the payload already carries.
type NormalizeFieldsRule struct{}

// NewNormalizeFieldsRule is the registry factory for class
// "normalize_fields_rule".
func NewNormalizeFieldsRule(params map[string]any) (Rule, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}
	return &NormalizeFieldsRule{}, nil
}

func (r *NormalizeFieldsRule) Meta() Meta {
	fields := []string{"external_id", "name", "brand", "strain", "tags", "price_cents", "status"}
	return Meta{
		Name:     "normalize_fields_rule",
		Priority: 10,
		Reads:    fields,
		Writes:   fields,
	}
}

func (r *NormalizeFieldsRule) Applies(*Context) bool { return true }

func (r *NormalizeFieldsRule) Apply(ctx *Context) (Patch, error) {
	patch := Patch{}

	for _, key := range []string{"external_id", "name", "brand", "strain"} {
		if s, ok := ctx.Payload[key].(string); ok {
			patch[key] = strings.TrimSpace(s)
		}
	}

	if s, ok := ctx.Payload["status"].(string); ok {
		patch["status"] = strings.ToLower(strings.TrimSpace(s))
	}

	if v, ok := ctx.Payload["price_cents"]; ok {
		if n, ok := intValue(v); ok {
			patch["price_cents"] = n
		}
	}

	if list, ok := ctx.Payload["tags"].([]any); ok {
		tags := make([]any, 0, len(list))
		for _, v := range list {
			s, ok := v.(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(s)
			if s != "" {
				tags = append(tags, s)
			}
		}
		patch["tags"] = tags
	}

	return patch, nil
}

// actionRule classifies an item by the presence of an existing record and
// the source's destroy pointer. The three variants are mutually exclusive;
// when none applies the processor rejects the item as unclassifiable.
type actionRule struct {
	name       string
	action     string
	pointerKey string
	wantItem   bool
	wantPtr    bool
}

// NewCreateActionRule is the registry factory for class
// "create_action_rule": no existing record, destroy pointer unset.
// Params: pointer_key (string, default "deleted_at").
func NewCreateActionRule(params map[string]any) (Rule, error) {
	return newActionRule(params, "create_action_rule", ActionCreate, false, false)
}

// NewUpdateActionRule is the registry factory for class
// "update_action_rule": existing record, destroy pointer unset.
// Params: pointer_key (string, default "deleted_at").
func NewUpdateActionRule(params map[string]any) (Rule, error) {
	return newActionRule(params, "update_action_rule", ActionUpdate, true, false)
}

// NewDestroyActionRule is the registry factory for class
// "destroy_action_rule": existing record, destroy pointer set.
// Params: pointer_key (string, default "deleted_at").
func NewDestroyActionRule(params map[string]any) (Rule, error) {
	return newActionRule(params, "destroy_action_rule", ActionDestroy, true, true)
}

func newActionRule(params map[string]any, name, action string, wantItem, wantPtr bool) (Rule, error) {
	if err := checkParams(params, "pointer_key"); err != nil {
		return nil, err
	}
	pointerKey, err := stringParam(params, "pointer_key", "deleted_at")
	if err != nil {
		return nil, err
	}
	return &actionRule{
		name:       name,
		action:     action,
		pointerKey: pointerKey,
		wantItem:   wantItem,
		wantPtr:    wantPtr,
	}, nil
}

func (r *actionRule) Meta() Meta {
	return Meta{
		Name:     r.name,
		Priority: 20,
		Reads:    []string{r.pointerKey},
		Writes:   []string{KeyAction},
	}
}

func (r *actionRule) Applies(ctx *Context) bool {
	return (ctx.MenuItem != nil) == r.wantItem && pointerSet(ctx, r.pointerKey) == r.wantPtr
}

func (r *actionRule) Apply(*Context) (Patch, error) {
	return Patch{KeyAction: r.action}, nil
}

// pointerSet reports whether the destroy pointer carries a value: non-blank
// strings, true booleans and any number or object count as set.
func pointerSet(ctx *Context, key string) bool {
	v, ok := ctx.Payload[key]
	if !ok || v == nil {
		return false
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) != ""
	case bool:
		return val
	default:
		return true
	}
}
