package ruleset

import (
	"bytes"
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/verdantlabs/menusync/internal/flag"
	"github.com/verdantlabs/menusync/internal/rule"
)

//go:embed schema.cue
var documentSchema string

// Document is a ruleset configuration file: which rule classes to
// instantiate, with what params and metadata overrides, merged under which
// policy. Documents are data, not code; every class must exist in the
// registry handed to Load.
type Document struct {
	Ruleset       string   `yaml:"ruleset"`
	Version       string   `yaml:"version"`
	Policy        string   `yaml:"policy"`
	DataFlowEdges bool     `yaml:"data_flow_edges"`
	Flags         []string `yaml:"flags"`
	Rules         []Entry  `yaml:"rules"`
}

// Entry configures one rule instance.
type Entry struct {
	Class     string          `yaml:"class"`
	Enabled   *bool           `yaml:"enabled"`
	Priority  *int            `yaml:"priority"`
	Params    map[string]any  `yaml:"params"`
	Overrides *EntryOverrides `yaml:"overrides"`
}

// EntryOverrides replaces a rule's declared ordering constraints.
type EntryOverrides struct {
	Before []string `yaml:"before"`
	After  []string `yaml:"after"`
}

// Parse vets raw YAML against the embedded schema and decodes it strictly.
// Schema violations carry source positions; unknown fields are rejected.
func Parse(filename string, data []byte) (*Document, error) {
	if err := vet(filename, data); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	return &doc, nil
}

// vet unifies the document with the #Document schema and validates the
// result. All problems are reported together, each with file:line:col.
func vet(filename string, data []byte) error {
	cuectx := cuecontext.New()

	schema := cuectx.CompileString(documentSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("internal: ruleset schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}
	doc := cuectx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Document")).Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var problems []string
		for _, e := range cueerrors.Errors(err) {
			problems = append(problems, cueerrors.Details(e, nil))
		}
		return &CompileError{Ruleset: filename, Problems: problems}
	}
	return nil
}

// Load instantiates the document's enabled rules from the registry and
// compiles them into a frozen RuleSet. Entry-level priority and ordering
// overrides replace the class defaults; params go to the class factory.
func Load(doc *Document, reg *rule.Registry) (*RuleSet, error) {
	policy, err := ParsePolicy(doc.Policy)
	if err != nil {
		return nil, fmt.Errorf("ruleset %q: %w", doc.Ruleset, err)
	}

	rules := make([]rule.Rule, 0, len(doc.Rules))
	for i, e := range doc.Rules {
		if e.Enabled != nil && !*e.Enabled {
			continue
		}
		r, err := reg.New(e.Class, e.Params)
		if err != nil {
			return nil, fmt.Errorf("ruleset %q: rules[%d]: %w", doc.Ruleset, i, err)
		}
		var before, after []string
		if e.Overrides != nil {
			before, after = e.Overrides.Before, e.Overrides.After
		}
		if e.Priority != nil || before != nil || after != nil {
			r = rule.Override(r, rule.Overrides{
				Priority: e.Priority,
				Before:   before,
				After:    after,
			})
		}
		rules = append(rules, r)
	}

	opts := []Option{
		WithName(doc.Ruleset),
		WithVersion(doc.Version),
		WithPolicy(policy),
	}
	if doc.DataFlowEdges {
		opts = append(opts, WithDataFlowEdges())
	}
	if len(doc.Flags) > 0 {
		opts = append(opts, WithFlagManifest(flag.Manifest(doc.Flags)))
	}
	return Compile(rules, opts...)
}

// LoadBytes parses and loads in one step.
func LoadBytes(filename string, data []byte, reg *rule.Registry) (*RuleSet, error) {
	doc, err := Parse(filename, data)
	if err != nil {
		return nil, err
	}
	return Load(doc, reg)
}
