// Package metric defines the pipeline's observability port and its
// Prometheus adapter. The pipeline reports batch and item lifecycle events
// through the Observer interface; everything else (registries, label
// wiring, namespaces) stays here.
package metric

import "time"

// Observer receives pipeline lifecycle events.
type Observer interface {
	// BatchStarted fires after the batch context is frozen, before item 0.
	BatchStarted(sourceID string, items int)

	// BatchFinished fires once per batch with the terminal status counts.
	BatchFinished(sourceID string, elapsed time.Duration, byStatus map[string]int)

	// ItemProcessed fires once per item with its terminal status.
	ItemProcessed(sourceID, status string, elapsed time.Duration)

	// PackWritten fires after a replay pack lands in the artifact store.
	PackWritten(sourceID, status string, size int)

	// PackFailed fires when a replay pack could not be written.
	PackFailed(sourceID string)
}

// Nop returns an Observer that discards everything.
func Nop() Observer { return nop{} }

type nop struct{}

func (nop) BatchStarted(string, int)                          {}
func (nop) BatchFinished(string, time.Duration, map[string]int) {}
func (nop) ItemProcessed(string, string, time.Duration)       {}
func (nop) PackWritten(string, string, int)                   {}
func (nop) PackFailed(string)                                 {}
