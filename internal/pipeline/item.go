package pipeline

import (
	"net/http"

	"github.com/verdantlabs/menusync/internal/catalog"
	"github.com/verdantlabs/menusync/internal/lookup"
	"github.com/verdantlabs/menusync/internal/replay"
	"github.com/verdantlabs/menusync/internal/rule"
)

// Non-terminal item statuses. Terminal statuses are the pack vocabulary:
// replay.StatusCreated, StatusUpdated, StatusDestroyed, StatusNoop,
// StatusRejected.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
)

// Item is the per-item processing state. Stages take it by value and return
// a successor; maps are written by at most one stage each, so the shared
// references stay single-writer.
type Item struct {
	Index      int
	SourceID   string
	ExternalID string
	IngestID   string

	Status string
	Action string

	// RawPayload is the normalized raw payload as received. MappedPayload
	// is the payload after the external transform; nil until that stage.
	RawPayload    map[string]any
	MappedPayload map[string]any

	// Record is the existing canonical record, nil for new items.
	Record *catalog.MenuItem

	ChangedKeys []string
	Changes     rule.Patch
	Fired       []string
	Violations  map[string][]string

	lookups *lookup.Recorder
}

// Terminal reports whether the item reached a terminal status.
func (it Item) Terminal() bool {
	switch it.Status {
	case replay.StatusCreated, replay.StatusUpdated, replay.StatusDestroyed,
		replay.StatusNoop, replay.StatusRejected:
		return true
	}
	return false
}

// reject terminates the item with one violation appended under field.
func (it Item) reject(field, message string) Item {
	it.Status = replay.StatusRejected
	it.Violations = appendViolation(it.Violations, field, message)
	return it
}

// rejectAll terminates the item merging a whole violations mapping, as
// returned by a contract.
func (it Item) rejectAll(violations map[string][]string) Item {
	it.Status = replay.StatusRejected
	for field, messages := range violations {
		for _, m := range messages {
			it.Violations = appendViolation(it.Violations, field, m)
		}
	}
	return it
}

func appendViolation(violations map[string][]string, field, message string) map[string][]string {
	if violations == nil {
		violations = map[string][]string{}
	}
	violations[field] = append(violations[field], message)
	return violations
}

// Outcome is the caller-visible per-item result.
type Outcome struct {
	ExternalID string              `json:"external_id"`
	Status     string              `json:"status"`
	FiredRules []string            `json:"fired_rules"`
	Violations map[string][]string `json:"violations,omitempty"`
}

// HTTPStatus maps the outcome to the webhook response code.
func (o Outcome) HTTPStatus() int {
	switch o.Status {
	case replay.StatusCreated:
		return http.StatusCreated
	case replay.StatusUpdated, replay.StatusNoop, replay.StatusDestroyed:
		return http.StatusOK
	case replay.StatusRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
