package source

import (
	"github.com/verdantlabs/menusync/internal/contract"
	"github.com/verdantlabs/menusync/internal/lookup"
	"github.com/verdantlabs/menusync/internal/rule"
	"github.com/verdantlabs/menusync/internal/ruleset"
)

// Treez returns the built-in treez POS source. Treez webhooks deliver full
// item rows; deletions arrive as the same row with deleted_at set, so the
// destroy pointer is a non-blank deleted_at.
func Treez() Definition {
	return Definition{
		ID:            "treez",
		SchemaVersion: "treez.v1",
		Raw: contract.NewSchema(
			contract.Required("external_id", contract.IsString(), contract.Filled()),
			contract.Required("name", contract.IsString(), contract.Filled()),
			contract.Optional("brand", contract.IsString()),
			contract.Optional("strain", contract.IsString()),
			contract.Optional("tags", contract.StringArray()),
			contract.Optional("price_cents", contract.IsInt()),
			contract.Optional("status", contract.OneOf("active", "inactive")),
			contract.Optional("deleted_at", contract.IsString()),
		),
		Transformer: treezTransformer(),
		Keys: lookup.Keys{
			ExternalID: "external_id",
			Brand:      "brand",
			Strain:     "strain",
			Tags:       "tags",
		},
		Silent: []string{"price_cents"},
	}
}

func treezTransformer() *ruleset.RuleSet {
	rules := []rule.Rule{
		mustRule(rule.NewNormalizeFieldsRule(nil)),
		mustRule(rule.NewCreateActionRule(nil)),
		mustRule(rule.NewUpdateActionRule(nil)),
		mustRule(rule.NewDestroyActionRule(nil)),
	}
	rs, err := ruleset.Compile(rules,
		ruleset.WithName("treez_external"),
		ruleset.WithVersion("builtin.1"),
		ruleset.WithPolicy(ruleset.LastWins),
	)
	if err != nil {
		panic(err) // the built-in set always compiles
	}
	return rs
}

func mustRule(r rule.Rule, err error) rule.Rule {
	if err != nil {
		panic(err)
	}
	return r
}
