package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/verdantlabs/menusync/internal/replay"
)

// Scenario is one YAML-defined end-to-end ingestion case: seeded state, one
// batch of raw payloads, and the expected per-item outcomes.
type Scenario struct {
	// Name uniquely identifies the scenario; it doubles as the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what the scenario pins down.
	Description string `yaml:"description"`

	// Source selects the registered source the batch arrives under.
	// Defaults to "treez".
	Source string `yaml:"source,omitempty"`

	// Now freezes the batch clock, RFC 3339. Defaults to a fixed instant
	// so golden files never move.
	Now string `yaml:"now,omitempty"`

	// Flags seeds the static feature-flag provider.
	Flags map[string]bool `yaml:"flags,omitempty"`

	// Brands, Strains and Tags seed the reference tables with explicit
	// ids, so changesets in golden files are stable.
	Brands  []Reference `yaml:"brands,omitempty"`
	Strains []Reference `yaml:"strains,omitempty"`
	Tags    []Reference `yaml:"tags,omitempty"`

	// Existing seeds canonical records that predate the batch.
	Existing []Existing `yaml:"existing,omitempty"`

	// Items is the raw payload batch, in delivery order.
	Items []map[string]any `yaml:"items"`

	// Expect declares outcome checks evaluated after the run.
	Expect Expect `yaml:"expect"`
}

// Reference seeds one reference row.
type Reference struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

// Existing seeds one canonical record. References are by name and must be
// seeded in the same scenario.
type Existing struct {
	ExternalID string   `yaml:"external_id"`
	Name       string   `yaml:"name"`
	Status     string   `yaml:"status,omitempty"`
	PriceCents *int64   `yaml:"price_cents,omitempty"`
	Brand      string   `yaml:"brand,omitempty"`
	Strain     string   `yaml:"strain,omitempty"`
	Tags       []string `yaml:"tags,omitempty"`

	// Deleted seeds the record already tombstoned.
	Deleted bool `yaml:"deleted,omitempty"`
}

// Expect declares the post-run checks.
type Expect struct {
	// Counts checks the batch tally for the named statuses.
	Counts map[string]int `yaml:"counts,omitempty"`

	// Outcomes checks individual items by external ID.
	Outcomes []ExpectedOutcome `yaml:"outcomes,omitempty"`
}

// ExpectedOutcome checks one item. Fired and Violations compare exactly when
// set and are skipped when omitted.
type ExpectedOutcome struct {
	ExternalID string              `yaml:"external_id"`
	Status     string              `yaml:"status"`
	Fired      []string            `yaml:"fired,omitempty"`
	Violations map[string][]string `yaml:"violations,omitempty"`
}

// defaultNow keeps golden files stable when a scenario does not pick its own
// batch instant.
const defaultNow = "2026-03-14T09:30:00Z"

// LoadScenario reads and parses a scenario file. Unknown YAML fields are
// rejected so typos fail loudly instead of silently skipping checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Items) == 0 {
		return fmt.Errorf("items list is required and must be non-empty")
	}
	if s.Now != "" {
		if _, err := time.Parse(time.RFC3339, s.Now); err != nil {
			return fmt.Errorf("now: %w", err)
		}
	}
	for i, ref := range append(append(append([]Reference{}, s.Brands...), s.Strains...), s.Tags...) {
		if ref.ID <= 0 || ref.Name == "" {
			return fmt.Errorf("reference[%d]: id and name are required", i)
		}
	}
	for i, e := range s.Existing {
		if e.ExternalID == "" {
			return fmt.Errorf("existing[%d]: external_id is required", i)
		}
		if e.Name == "" {
			return fmt.Errorf("existing[%d]: name is required", i)
		}
	}
	for i, o := range s.Expect.Outcomes {
		if o.ExternalID == "" {
			return fmt.Errorf("expect.outcomes[%d]: external_id is required", i)
		}
		if !knownStatus(o.Status) {
			return fmt.Errorf("expect.outcomes[%d]: unknown status %q", i, o.Status)
		}
	}
	for status := range s.Expect.Counts {
		if !knownStatus(status) {
			return fmt.Errorf("expect.counts: unknown status %q", status)
		}
	}
	return nil
}

func knownStatus(status string) bool {
	switch status {
	case replay.StatusCreated, replay.StatusUpdated, replay.StatusDestroyed,
		replay.StatusNoop, replay.StatusRejected:
		return true
	}
	return false
}

// sourceID returns the scenario's source, defaulting to treez.
func (s *Scenario) sourceID() string {
	if s.Source == "" {
		return "treez"
	}
	return s.Source
}

// now returns the frozen batch instant.
func (s *Scenario) now() time.Time {
	raw := s.Now
	if raw == "" {
		raw = defaultNow
	}
	// Validated at load time.
	t, _ := time.Parse(time.RFC3339, raw)
	return t
}

// reversed returns a copy of the scenario with the batch order flipped.
// Seeded state is untouched; only delivery order changes.
func (s *Scenario) reversed() *Scenario {
	out := *s
	out.Items = make([]map[string]any, len(s.Items))
	for i, item := range s.Items {
		out.Items[len(s.Items)-1-i] = item
	}
	return &out
}
