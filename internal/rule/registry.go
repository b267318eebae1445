package rule

import (
	"fmt"
	"sort"
	"sync"
)

// Factory instantiates a rule from its configuration params.
type Factory func(params map[string]any) (Rule, error)

// Registry maps rule class names to factories. Ruleset documents reference
// rules by class name; there is no reflection anywhere on this path.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a factory under class. Duplicate registration is an error.
func (reg *Registry) Register(class string, f Factory) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.factories[class]; exists {
		return fmt.Errorf("rule class %q already registered", class)
	}
	reg.factories[class] = f
	return nil
}

// MustRegister is Register but panics on error. For init-time wiring.
func (reg *Registry) MustRegister(class string, f Factory) {
	if err := reg.Register(class, f); err != nil {
		panic(err)
	}
}

// New instantiates a rule by class name.
func (reg *Registry) New(class string, params map[string]any) (Rule, error) {
	reg.mu.RLock()
	f, ok := reg.factories[class]
	reg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown rule class %q", class)
	}
	r, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("rule class %q: %w", class, err)
	}
	return r, nil
}

// Classes returns the registered class names, sorted.
func (reg *Registry) Classes() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.factories))
	for c := range reg.factories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Builtin returns a fresh registry holding every built-in rule class.
func Builtin() *Registry {
	reg := NewRegistry()
	reg.MustRegister("name_rule", NewNameRule)
	reg.MustRegister("status_rule", NewStatusRule)
	reg.MustRegister("price_cents_rule", NewPriceCentsRule)
	reg.MustRegister("brand_name_rule", NewBrandNameRule)
	reg.MustRegister("strain_name_rule", NewStrainNameRule)
	reg.MustRegister("tag_names_rule", NewTagNamesRule)
	reg.MustRegister("normalize_fields_rule", NewNormalizeFieldsRule)
	reg.MustRegister("create_action_rule", NewCreateActionRule)
	reg.MustRegister("update_action_rule", NewUpdateActionRule)
	reg.MustRegister("destroy_action_rule", NewDestroyActionRule)
	return reg
}
