// Package harness runs end-to-end ingestion scenarios defined in YAML.
//
// A scenario seeds a fresh SQLite-backed store (reference rows plus existing
// canonical records), runs one batch through the real pipeline under a frozen
// clock and sequential ingest IDs, and checks the declared expectations. The
// full run is also snapshotted for golden-file comparison, so rule firing
// order, changesets and pack keys are pinned byte for byte.
//
// # Scenario format
//
//	name: create_brand_resolved
//	description: "Create path resolves the brand reference"
//	source: treez            # optional, defaults to treez
//	now: "2026-03-14T09:30:00Z"
//	flags:
//	  menu.require_brand: true
//	brands:
//	  - {id: 42, name: Acme}
//	existing:
//	  - external_id: X2
//	    name: Gelato Gummies
//	    brand: Acme
//	items:
//	  - external_id: X1
//	    name: Blue Dream
//	    brand: Acme
//	expect:
//	  counts: {created: 1}
//	  outcomes:
//	    - external_id: X1
//	      status: created
//
// Sources: "treez" is the built-in POS source with its strict raw contract;
// "feed" is a permissive scenario source (only external_id required, action
// classification only) for exercising classification and canonical rules in
// isolation.
//
// Every scenario runs with the same frozen defaults unless overridden, so
// golden files stay stable across machines and runs.
package harness
