// Package replay defines the per-item replay pack and the runner that
// re-executes one. A pack is self-contained: it embeds every input the
// item's evaluation consumed (normalized payload, changed keys, consulted
// lookup entries, flag values, the frozen rule order), so a run can be
// reproduced offline with no live service behind it.
package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/verdantlabs/menusync/internal/artifact"
	"github.com/verdantlabs/menusync/internal/lookup"
	"github.com/verdantlabs/menusync/internal/ruleset"
)

// PackVersion is the current pack shape. It advances on any incompatible
// field change; Decode rejects packs written by a different shape.
const PackVersion = 1

// Terminal item statuses a pack can carry. The processor assigns them; the
// runner derives the original action from them.
const (
	StatusCreated   = "created"
	StatusUpdated   = "updated"
	StatusDestroyed = "destroyed"
	StatusNoop      = "noop"
	StatusRejected  = "rejected"
)

// FiredRawValidation is the pseudo-rule name recorded in fired_rules when
// the raw contract rejects an item before any ruleset runs.
const FiredRawValidation = "raw_validation"

// Pack is the immutable replay artifact emitted once per processed item.
//
// RawPayloadNormalized is the payload after raw-contract validation,
// MappedPayload the payload after the external transform, Changes the merged
// canonical-stage patch. ChangedKeys is the computed changeset the canonical
// stage ran under; replay reuses it instead of re-diffing, since the prior
// record is not embedded.
type Pack struct {
	PackVersion          int                      `json:"pack_version"`
	ProducedAt           int64                    `json:"produced_at"`
	Env                  string                   `json:"env"`
	AppVersion           string                   `json:"app_version"`
	GitSHA               string                   `json:"git_sha"`
	RulesetVersion       string                   `json:"ruleset_version"`
	FlagsVersion         string                   `json:"flags_version"`
	PayloadSchemaVersion string                   `json:"payload_schema_version"`
	SourceID             string                   `json:"source_id"`
	ExternalID           string                   `json:"external_id"`
	IngestID             string                   `json:"ingest_id"`
	Status               string                   `json:"status"`
	FiredRules           []string                 `json:"fired_rules"`
	RawPayloadNormalized map[string]any           `json:"raw_payload_normalized"`
	MappedPayload        map[string]any           `json:"mapped_payload"`
	ChangedKeys          []string                 `json:"changed_keys"`
	Changes              map[string]any           `json:"changes"`
	Violations           map[string][]string      `json:"violations"`
	ResolverSnapshot     *lookup.ResolverSnapshot `json:"resolver_snapshot"`
	RulesOrder           []ruleset.PlanEntry      `json:"rules_order"`
	FlagsSnapshot        map[string]bool          `json:"flags_snapshot"`
}

// ProducedTime returns the production instant in UTC.
func (p *Pack) ProducedTime() time.Time {
	return time.Unix(p.ProducedAt, 0).UTC()
}

// Key returns the storage key the pack files under.
func (p *Pack) Key() artifact.Key {
	return artifact.Key{
		Env:            p.Env,
		Date:           p.ProducedTime(),
		Status:         p.Status,
		RulesetVersion: p.RulesetVersion,
		SourceID:       p.SourceID,
		ExternalID:     p.ExternalID,
		IngestID:       p.IngestID,
	}
}

// Marshal serializes the pack as compact JSON. encoding/json writes map keys
// in sorted order, so equal packs marshal to equal bytes.
func (p *Pack) Marshal() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal pack %s: %w", p.IngestID, err)
	}
	return data, nil
}

// Encode returns the gzip-compressed serialization written to the artifact
// store. The gzip header stays zeroed (no name, no mtime), so equal packs
// encode to equal bytes.
func (p *Pack) Encode() ([]byte, error) {
	raw, err := p.Marshal()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("encode pack %s: %w", p.IngestID, err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("encode pack %s: %w", p.IngestID, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("encode pack %s: %w", p.IngestID, err)
	}
	return buf.Bytes(), nil
}

// Decode parses a stored pack, transparently inflating gzip. Payload numbers
// decode as float64, the same shape a webhook delivery carries, so replayed
// rules see what live rules saw.
func Decode(data []byte) (*Pack, error) {
	if isGzip(data) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode pack: %w", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("decode pack: %w", err)
		}
	}

	var p Pack
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pack: %w", err)
	}
	if p.PackVersion != PackVersion {
		return nil, fmt.Errorf("decode pack: unsupported pack_version %d (want %d)", p.PackVersion, PackVersion)
	}
	return &p, nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
