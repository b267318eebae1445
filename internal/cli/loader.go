package cli

import (
	"fmt"
	"os"

	"github.com/verdantlabs/menusync/internal/pipeline"
	"github.com/verdantlabs/menusync/internal/rule"
	"github.com/verdantlabs/menusync/internal/ruleset"
)

// loadRulesetFile reads one ruleset document and fully compiles it against
// the built-in rule registry: schema vet, class instantiation, edge
// synthesis, conflict and cycle checks.
func loadRulesetFile(path string) (*ruleset.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset file: %w", err)
	}
	return ruleset.LoadBytes(path, data, rule.Builtin())
}

// canonicalRulesets resolves the create and update rulesets used by run and
// replay: configured documents when paths are given, the built-in canonical
// set otherwise.
func canonicalRulesets(createPath, updatePath string) (create, update *ruleset.RuleSet, err error) {
	builtin := pipeline.DefaultCanonical()
	create, update = builtin, builtin
	if createPath != "" {
		if create, err = loadRulesetFile(createPath); err != nil {
			return nil, nil, fmt.Errorf("create ruleset: %w", err)
		}
	}
	if updatePath != "" {
		if update, err = loadRulesetFile(updatePath); err != nil {
			return nil, nil, fmt.Errorf("update ruleset: %w", err)
		}
	}
	return create, update, nil
}
