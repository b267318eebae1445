package pipeline

import (
	"context"
	"time"

	"github.com/verdantlabs/menusync/internal/catalog"
	"github.com/verdantlabs/menusync/internal/rule"
)

// DestroyReason is recorded on tombstones written for items the source
// reported as deleted.
const DestroyReason = "source_destroy"

// Repository persists canonical menu items. Implementations live in
// internal/persist; tests supply in-memory fakes.
//
// All writes stamp the batch timestamp, never their own clock. UpdateSilent
// applies changes without touching updated_at or revision; the pipeline
// routes an update there when every changed key lies in the source's
// silent set.
type Repository interface {
	Create(ctx context.Context, sourceID, externalID string, changes rule.Patch, now time.Time) error
	Update(ctx context.Context, current *catalog.MenuItem, changes rule.Patch, now time.Time) error
	UpdateSilent(ctx context.Context, current *catalog.MenuItem, changes rule.Patch) error
	Destroy(ctx context.Context, current *catalog.MenuItem, reason string, now time.Time) error
}
