package harness

import (
	"encoding/json"
	"fmt"
)

// Snapshot renders a scenario run as stable, indented JSON for golden-file
// comparison. Only deterministic fields appear: outcomes follow batch input
// order, map keys sort under encoding/json, and wall-clock durations are
// left out. Pack fields are read back from the decoded replay packs, so the
// snapshot pins what was actually written to the artifact store.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	items := make([]any, 0, len(result.Batch.Outcomes))
	for _, o := range result.Batch.Outcomes {
		entry := map[string]any{
			"external_id": o.ExternalID,
			"status":      o.Status,
			"fired":       o.FiredRules,
		}
		if len(o.Violations) > 0 {
			entry["violations"] = o.Violations
		}
		if pack, ok := result.Packs[o.ExternalID]; ok {
			entry["pack"] = map[string]any{
				"key":                    pack.Key().String(),
				"ruleset_version":        pack.RulesetVersion,
				"flags_version":          pack.FlagsVersion,
				"payload_schema_version": pack.PayloadSchemaVersion,
				"changed_keys":           pack.ChangedKeys,
				"changes":                pack.Changes,
			}
		}
		items = append(items, entry)
	}

	counts := map[string]any{}
	for status, n := range result.Batch.Counts {
		counts[status] = n
	}

	snapshot := map[string]any{
		"scenario": scenario.Name,
		"source":   scenario.sourceID(),
		"counts":   counts,
		"items":    items,
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", scenario.Name, err)
	}
	return append(data, '\n'), nil
}
