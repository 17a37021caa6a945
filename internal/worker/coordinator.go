package worker

import (
	"context"

	"loom/internal/backlog"
	"loom/internal/pipeline"
)

// Coordinator decides which stage the pool works on next. Selection favors
// the earliest stage in dependency order that has claimable items, so
// upstream output flows downstream instead of piling up.
type Coordinator struct {
	store *backlog.Store
}

// NewCoordinator constructs a coordinator over the store's pipeline.
func NewCoordinator(store *backlog.Store) *Coordinator {
	return &Coordinator{store: store}
}

// NextStage returns the stage to drain next, or false when nothing is
// claimable anywhere in the pipeline.
func (c *Coordinator) NextStage(ctx context.Context) (pipeline.Stage, bool, error) {
	counts, err := c.store.PendingCounts(ctx)
	if err != nil {
		return "", false, err
	}
	stage, ok := c.store.Pipeline().NextStage(counts)
	return stage, ok, nil
}
