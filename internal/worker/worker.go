package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"loom/internal/backlog"
	"loom/internal/backoff"
	"loom/internal/logging"
	"loom/internal/pipeline"
	"loom/internal/services"
)

// Stats aggregates the outcomes of processed stage executions. Claimed is
// the number of items a cycle took; zero means the stage was drained.
type Stats struct {
	Claimed      int
	Processed    int
	Failed       int
	DeadLettered int
	Conflicts    int
}

// Add merges other into s.
func (s *Stats) Add(other Stats) {
	s.Claimed += other.Claimed
	s.Processed += other.Processed
	s.Failed += other.Failed
	s.DeadLettered += other.DeadLettered
	s.Conflicts += other.Conflicts
}

// Worker claims batches for a stage and drives each item through its
// processor under the backoff controller, committing the outcome back to
// the store. A worker holds no state between cycles; crash recovery is the
// store's lease machinery.
type Worker struct {
	id          string
	store       *backlog.Store
	controller  *backoff.Controller
	hasFallback bool
	batchSize   int
	logger      *slog.Logger
}

// New constructs a worker with the supplied identity.
func New(id string, store *backlog.Store, controller *backoff.Controller, hasFallback bool, batchSize int, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		id:          id,
		store:       store,
		controller:  controller,
		hasFallback: hasFallback,
		batchSize:   batchSize,
		logger:      logger.With(logging.String(logging.FieldWorkerID, id)),
	}
}

// ID returns the worker's claim identity.
func (w *Worker) ID() string {
	return w.id
}

// ProcessOnce claims one batch for the stage and processes every item in
// it. An empty batch returns zero stats and no error; the caller decides
// whether that means sleep or done. Cancellation is honored between items,
// never in the middle of a commit.
func (w *Worker) ProcessOnce(ctx context.Context, stage pipeline.Stage) (Stats, error) {
	return w.process(ctx, stage, w.batchSize)
}

// process is ProcessOnce with an explicit claim size so the pool can clamp
// the final batch of a capped run.
func (w *Worker) process(ctx context.Context, stage pipeline.Stage, batchSize int) (Stats, error) {
	var stats Stats

	items, err := w.store.ClaimBatch(ctx, stage, w.id, batchSize)
	if err != nil {
		return stats, err
	}
	if len(items) == 0 {
		return stats, nil
	}
	stats.Claimed = len(items)
	w.logger.DebugContext(ctx, "claimed batch",
		logging.String(logging.FieldStage, string(stage)),
		logging.Int("items", len(items)),
	)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			// Remaining claims stay leased; the reclaim sweep or a
			// restart returns them to pending.
			return stats, err
		}
		outcome, err := w.processItem(ctx, stage, item)
		if err != nil {
			return stats, err
		}
		stats.Add(outcome)
	}
	return stats, nil
}

// processItem runs one stage execution and commits its outcome. Only store
// failures propagate as errors; processor failures are recorded on the item
// and counted.
func (w *Worker) processItem(ctx context.Context, stage pipeline.Stage, item *backlog.Item) (Stats, error) {
	var stats Stats
	itemCtx := services.WithStage(services.WithItemID(ctx, item.ID), string(stage))
	logger := w.logger.With(
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldStage, string(stage)),
	)

	req, err := w.buildRequest(itemCtx, stage, item)
	if err != nil {
		return stats, err
	}
	processor, ok := w.store.Pipeline().Processor(stage)
	if !ok || processor == nil {
		return stats, fmt.Errorf("stage %q has no processor", stage)
	}

	var result json.RawMessage
	runErr := w.controller.Run(itemCtx, w.hasFallback, func(ctx context.Context, attempt backoff.Attempt) error {
		req.StrictHint = attempt.StrictHint
		req.UseFallback = attempt.UseFallback
		raw, err := processor.Process(ctx, req)
		if err != nil {
			return err
		}
		result = raw
		return nil
	})

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return stats, runErr
		}
		return w.commitFailure(itemCtx, logger, stage, item, runErr)
	}
	return w.commitResult(itemCtx, logger, stage, item, result)
}

func (w *Worker) buildRequest(ctx context.Context, stage pipeline.Stage, item *backlog.Item) (pipeline.Request, error) {
	req := pipeline.Request{
		ItemID:     item.ID,
		PayloadRef: item.PayloadRef,
		Payload:    item.Payload,
	}
	upstreams := w.store.Pipeline().Upstream(stage)
	if len(upstreams) == 0 {
		return req, nil
	}

	results, err := w.store.StageResults(ctx, item.ID)
	if err != nil {
		return req, err
	}
	req.Upstream = make(map[pipeline.Stage]json.RawMessage, len(upstreams))
	for _, up := range upstreams {
		raw, ok := results[up]
		if !ok {
			// The claim filter guarantees complete upstreams; a miss here
			// means a reprocess raced in between claim and read.
			return req, fmt.Errorf("%w: upstream %s result missing for item %d", services.ErrStoreConflict, up, item.ID)
		}
		req.Upstream[up] = raw
	}
	return req, nil
}

func (w *Worker) commitResult(ctx context.Context, logger *slog.Logger, stage pipeline.Stage, item *backlog.Item, result json.RawMessage) (Stats, error) {
	var stats Stats
	err := w.store.CommitResult(ctx, item.ID, stage, w.id, string(result))
	switch {
	case err == nil:
		stats.Processed++
		logger.InfoContext(ctx, "stage complete",
			logging.String(logging.FieldEventType, "commit"),
		)
	case errors.Is(err, services.ErrStoreConflict):
		stats.Conflicts++
		logger.WarnContext(ctx, "claim lost before commit",
			logging.String(logging.FieldEventType, "conflict"),
			logging.Error(err),
		)
	default:
		return stats, err
	}
	return stats, nil
}

func (w *Worker) commitFailure(ctx context.Context, logger *slog.Logger, stage pipeline.Stage, item *backlog.Item, runErr error) (Stats, error) {
	var stats Stats
	class := services.Classify(runErr)
	if class == services.ClassStoreUnavailable {
		return stats, runErr
	}

	status, err := w.store.CommitFailure(ctx, item.ID, stage, w.id, class, runErr.Error())
	switch {
	case err == nil:
	case errors.Is(err, services.ErrStoreConflict):
		stats.Conflicts++
		logger.WarnContext(ctx, "claim lost before failure commit",
			logging.String(logging.FieldEventType, "conflict"),
			logging.Error(err),
		)
		return stats, nil
	default:
		return stats, err
	}

	stats.Failed++
	if status == backlog.StatusDeadLetter {
		stats.DeadLettered++
		logger.ErrorContext(ctx, "stage dead-lettered",
			logging.String(logging.FieldEventType, "dead_letter"),
			logging.String(logging.FieldErrorClass, string(class)),
			logging.String(logging.FieldErrorHint, "inspect with loom status, requeue with loom reprocess"),
			logging.Error(runErr),
		)
	} else {
		logger.WarnContext(ctx, "stage failed, will retry",
			logging.String(logging.FieldEventType, "retry"),
			logging.String(logging.FieldErrorClass, string(class)),
			logging.Error(runErr),
		)
	}
	return stats, nil
}
