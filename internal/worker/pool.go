package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"loom/internal/backlog"
	"loom/internal/backoff"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/pipeline"
	"loom/internal/services"
)

// Pool fans a stage out across a fixed set of workers and sequences stages
// through the coordinator. It has two modes: RunBatch drains the backlog and
// returns, Run keeps polling until the context ends.
type Pool struct {
	store       *backlog.Store
	coordinator *Coordinator
	workers     []*Worker
	logger      *slog.Logger

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	reclaimInterval    time.Duration
}

// NewPool builds the worker set from configuration. Worker identities are
// unique per process so leases from a previous run never look like ours.
func NewPool(cfg *config.Config, store *backlog.Store, controller *backoff.Controller, hasFallback bool, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	count := cfg.Workers.Count
	if count <= 0 {
		count = 1
	}
	batchSize := cfg.Workers.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	run := uuid.NewString()[:8]
	workers := make([]*Worker, count)
	for i := range workers {
		id := fmt.Sprintf("%s-%d", run, i+1)
		workers[i] = New(id, store, controller, hasFallback, batchSize, logger)
	}

	return &Pool{
		store:              store,
		coordinator:        NewCoordinator(store),
		workers:            workers,
		logger:             logging.NewComponentLogger(logger, "pool"),
		pollInterval:       time.Duration(cfg.Workers.PollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workers.ErrorRetryInterval) * time.Second,
		reclaimInterval:    time.Duration(cfg.Workers.ReclaimInterval) * time.Second,
	}
}

// BatchOptions narrows what a batch run works on. The zero value drains
// every stage with no cap.
type BatchOptions struct {
	// Stage restricts the run to a single stage when set.
	Stage pipeline.Stage
	// Limit caps how many stage executions the run claims. Zero means
	// unbounded.
	Limit int
}

// batchStoreRetries bounds how many consecutive store outages a batch run
// rides out before surfacing the error.
const batchStoreRetries = 3

// RunBatch drains the backlog and returns aggregate stats. Completion is
// two consecutive sweeps with nothing claimable: the second sweep confirms
// that the last commits did not unlock downstream work.
func (p *Pool) RunBatch(ctx context.Context, opts BatchOptions) (Stats, error) {
	var total Stats

	if opts.Stage != "" && !p.store.Pipeline().Contains(opts.Stage) {
		return total, fmt.Errorf("unknown stage %q", opts.Stage)
	}

	var remaining *atomic.Int64
	if opts.Limit > 0 {
		remaining = new(atomic.Int64)
		remaining.Store(int64(opts.Limit))
	}

	storeFailures := 0
	for {
		reclaimed, err := p.store.ReclaimExpiredLeases(ctx, time.Now())
		if err != nil {
			if err := p.pauseForStore(ctx, err, &storeFailures); err != nil {
				return total, err
			}
			continue
		}
		if reclaimed > 0 {
			p.logger.InfoContext(ctx, "reclaimed expired leases", logging.Int64("count", reclaimed))
		}
		break
	}

	emptySweeps := 0
	storeFailures = 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if remaining != nil && remaining.Load() <= 0 {
			return total, nil
		}
		stage, ok, err := p.nextBatchStage(ctx, opts.Stage)
		if err != nil {
			if err := p.pauseForStore(ctx, err, &storeFailures); err != nil {
				return total, err
			}
			continue
		}
		if !ok {
			emptySweeps++
			if emptySweeps >= 2 {
				return total, nil
			}
			continue
		}
		emptySweeps = 0

		stats, err := p.drainStage(ctx, stage, remaining)
		total.Add(stats)
		if err != nil {
			if err := p.pauseForStore(ctx, err, &storeFailures); err != nil {
				return total, err
			}
			continue
		}
		storeFailures = 0
	}
}

// nextBatchStage is coordinator selection, optionally pinned to one stage.
func (p *Pool) nextBatchStage(ctx context.Context, only pipeline.Stage) (pipeline.Stage, bool, error) {
	if only == "" {
		return p.coordinator.NextStage(ctx)
	}
	counts, err := p.store.PendingCounts(ctx)
	if err != nil {
		return "", false, err
	}
	return only, counts[only] > 0, nil
}

// pauseForStore absorbs a bounded number of consecutive store outages by
// sleeping the error retry interval. Anything that is not a store outage,
// or one outage too many, comes back to the caller.
func (p *Pool) pauseForStore(ctx context.Context, err error, failures *int) error {
	if services.Classify(err) != services.ClassStoreUnavailable {
		return err
	}
	*failures++
	if *failures >= batchStoreRetries {
		return err
	}
	p.logger.WarnContext(ctx, "store unavailable, retrying",
		logging.Error(err),
		logging.Duration("retry_in", p.errorRetryInterval),
	)
	return sleepCtx(ctx, p.errorRetryInterval)
}

// Run processes the backlog continuously. Claim-cycle errors pause and
// retry instead of exiting; only context cancellation stops the loop. A
// background sweep reclaims expired leases so items from crashed workers
// return to circulation without a restart.
func (p *Pool) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reclaimLoop(ctx)
	}()
	defer wg.Wait()

	p.logger.InfoContext(ctx, "pool started",
		logging.Int("workers", len(p.workers)),
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		stage, ok, err := p.coordinator.NextStage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.ErrorContext(ctx, "stage selection failed",
				logging.Error(err),
				logging.Duration("retry_in", p.errorRetryInterval),
			)
			if err := sleepCtx(ctx, p.errorRetryInterval); err != nil {
				return err
			}
			continue
		}
		if !ok {
			if err := sleepCtx(ctx, p.pollInterval); err != nil {
				return err
			}
			continue
		}

		stats, err := p.drainStage(ctx, stage, nil)
		if stats.Processed+stats.Failed > 0 {
			p.logger.InfoContext(ctx, "stage cycle finished",
				logging.String(logging.FieldStage, string(stage)),
				logging.Int("processed", stats.Processed),
				logging.Int("failed", stats.Failed),
				logging.Int("dead_lettered", stats.DeadLettered),
			)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.ErrorContext(ctx, "stage cycle failed",
				logging.String(logging.FieldStage, string(stage)),
				logging.Error(err),
				logging.Duration("retry_in", p.errorRetryInterval),
			)
			if err := sleepCtx(ctx, p.errorRetryInterval); err != nil {
				return err
			}
		}
	}
}

// drainStage runs every worker against one stage until its claimable items
// are gone, or until the shared claim countdown hits zero on a capped run.
// The first store error cancels the remaining workers; processor failures
// are already absorbed into stats by the workers themselves.
func (p *Pool) drainStage(ctx context.Context, stage pipeline.Stage, remaining *atomic.Int64) (Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var total Stats
	var firstErr error

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			for {
				size := w.batchSize
				if remaining != nil {
					reserved := reserveClaims(remaining, int64(size))
					if reserved == 0 {
						return
					}
					size = int(reserved)
				}
				stats, err := w.process(ctx, stage, size)
				if remaining != nil && stats.Claimed < size {
					// A short batch means the stage drained; hand the
					// unused reservation back for other stages.
					remaining.Add(int64(size - stats.Claimed))
				}
				mu.Lock()
				total.Add(stats)
				if err != nil && firstErr == nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					firstErr = err
				}
				mu.Unlock()
				if err != nil {
					cancel()
					return
				}
				if stats.Claimed == 0 {
					return
				}
			}
		}(w)
	}
	wg.Wait()

	return total, firstErr
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	if p.reclaimInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.reclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := p.store.ReclaimExpiredLeases(ctx, time.Now())
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				p.logger.WarnContext(ctx, "lease reclaim failed", logging.Error(err))
				continue
			}
			if reclaimed > 0 {
				p.logger.InfoContext(ctx, "reclaimed expired leases",
					logging.Int64("count", reclaimed),
				)
			}
		}
	}
}

// reserveClaims takes up to want units from the shared claim countdown and
// reports how many it got.
func reserveClaims(remaining *atomic.Int64, want int64) int64 {
	for {
		current := remaining.Load()
		if current <= 0 {
			return 0
		}
		take := want
		if current < take {
			take = current
		}
		if remaining.CompareAndSwap(current, current-take) {
			return take
		}
	}
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
