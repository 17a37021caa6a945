package worker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"loom/internal/backlog"
	"loom/internal/backoff"
	"loom/internal/pipeline"
	"loom/internal/services"
	"loom/internal/testsupport"
	"loom/internal/worker"
)

const (
	stageSummarize = pipeline.Stage("summarize")
	stageClassify  = pipeline.Stage("classify")
)

func noSleep(time.Duration) {}

func testController(t testing.TB, policy backoff.Policy) *backoff.Controller {
	t.Helper()
	return backoff.New(policy, nil, backoff.WithSleeper(noSleep))
}

func okProcessor(stage pipeline.Stage) pipeline.Processor {
	return pipeline.ProcessorFunc(func(ctx context.Context, req pipeline.Request) (json.RawMessage, error) {
		return json.RawMessage(fmt.Sprintf(`{"stage":%q,"item":%d}`, stage, req.ItemID)), nil
	})
}

func TestWorkerProcessesClaimedBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	pipe := testsupport.NewPipeline(t,
		pipeline.Definition{Name: stageSummarize, Processor: okProcessor(stageSummarize)},
	)
	store := testsupport.MustOpenStore(t, cfg, pipe)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		testsupport.NewItem(t, store, fmt.Sprintf("doc-%d", i), "{}")
	}

	w := worker.New("w1", store, testController(t, backoff.Policy{MaxAttempts: 1}), false, 10, nil)
	stats, err := w.ProcessOnce(ctx, stageSummarize)
	if err != nil {
		t.Fatalf("ProcessOnce returned error: %v", err)
	}
	if stats.Claimed != 3 || stats.Processed != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	counts, err := store.StatusCounts(ctx)
	if err != nil {
		t.Fatalf("StatusCounts failed: %v", err)
	}
	if counts[stageSummarize][backlog.StatusComplete] != 3 {
		t.Fatalf("expected 3 complete, got %v", counts[stageSummarize])
	}
}

func TestWorkerPassesUpstreamResults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var sawUpstream atomic.Bool
	pipe := testsupport.NewPipeline(t,
		pipeline.Definition{Name: stageSummarize, Processor: okProcessor(stageSummarize)},
		pipeline.Definition{
			Name:     stageClassify,
			Upstream: []pipeline.Stage{stageSummarize},
			Processor: pipeline.ProcessorFunc(func(ctx context.Context, req pipeline.Request) (json.RawMessage, error) {
				raw, ok := req.Upstream[stageSummarize]
				if !ok {
					return nil, fmt.Errorf("missing upstream result")
				}
				var parsed struct {
					Item int64 `json:"item"`
				}
				if err := json.Unmarshal(raw, &parsed); err != nil {
					return nil, err
				}
				if parsed.Item != req.ItemID {
					return nil, fmt.Errorf("upstream result for wrong item %d", parsed.Item)
				}
				sawUpstream.Store(true)
				return json.RawMessage(`{"category":"other"}`), nil
			}),
		},
	)
	store := testsupport.MustOpenStore(t, cfg, pipe)

	ctx := context.Background()
	testsupport.NewItem(t, store, "doc-1", "{}")

	w := worker.New("w1", store, testController(t, backoff.Policy{MaxAttempts: 1}), false, 10, nil)
	if _, err := w.ProcessOnce(ctx, stageSummarize); err != nil {
		t.Fatalf("summarize cycle: %v", err)
	}
	stats, err := w.ProcessOnce(ctx, stageClassify)
	if err != nil {
		t.Fatalf("classify cycle: %v", err)
	}
	if stats.Processed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !sawUpstream.Load() {
		t.Fatal("classify processor never saw upstream result")
	}
}

func TestWorkerRetriesAcrossCycles(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(5))
	var calls atomic.Int32
	pipe := testsupport.NewPipeline(t, pipeline.Definition{
		Name: stageSummarize,
		Processor: pipeline.ProcessorFunc(func(ctx context.Context, req pipeline.Request) (json.RawMessage, error) {
			if calls.Add(1) < 3 {
				return nil, services.Wrap(services.ErrTransient, string(stageSummarize), "fetch", "flaky upstream", nil)
			}
			return json.RawMessage(`{"ok":true}`), nil
		}),
	})
	store := testsupport.MustOpenStore(t, cfg, pipe)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, "doc-1", "{}")

	// One in-cycle attempt per claim forces the retry across claim cycles.
	w := worker.New("w1", store, testController(t, backoff.Policy{MaxAttempts: 1}), false, 1, nil)

	for cycle := 1; cycle <= 2; cycle++ {
		stats, err := w.ProcessOnce(ctx, stageSummarize)
		if err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
		if stats.Failed != 1 || stats.DeadLettered != 0 {
			t.Fatalf("cycle %d: unexpected stats %+v", cycle, stats)
		}
	}
	state, err := store.StageState(ctx, item.ID, stageSummarize)
	if err != nil {
		t.Fatalf("StageState failed: %v", err)
	}
	if state.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", state.RetryCount)
	}

	stats, err := w.ProcessOnce(ctx, stageSummarize)
	if err != nil {
		t.Fatalf("final cycle: %v", err)
	}
	if stats.Processed != 1 {
		t.Fatalf("expected success on third cycle, got %+v", stats)
	}
}

func TestWorkerDeadLettersAtRetryBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(2))
	pipe := testsupport.NewPipeline(t, pipeline.Definition{
		Name: stageSummarize,
		Processor: pipeline.ProcessorFunc(func(ctx context.Context, req pipeline.Request) (json.RawMessage, error) {
			return nil, services.Wrap(services.ErrTransient, string(stageSummarize), "fetch", "always down", nil)
		}),
	})
	store := testsupport.MustOpenStore(t, cfg, pipe)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, "doc-1", "{}")
	w := worker.New("w1", store, testController(t, backoff.Policy{MaxAttempts: 1}), false, 1, nil)

	var last worker.Stats
	for cycle := 0; cycle < 2; cycle++ {
		stats, err := w.ProcessOnce(ctx, stageSummarize)
		if err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
		last = stats
	}
	if last.DeadLettered != 1 {
		t.Fatalf("expected dead letter on final cycle, got %+v", last)
	}

	state, err := store.StageState(ctx, item.ID, stageSummarize)
	if err != nil {
		t.Fatalf("StageState failed: %v", err)
	}
	if state.Status != backlog.StatusDeadLetter {
		t.Fatalf("expected dead_letter, got %s", state.Status)
	}
	if state.LastError == "" || state.ErrorClass != string(services.ClassTransient) {
		t.Fatalf("dead letter must keep error info, got %q / %q", state.LastError, state.ErrorClass)
	}
}

func TestWorkerPermanentErrorsBurnRetryBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(2))
	pipe := testsupport.NewPipeline(t, pipeline.Definition{
		Name: stageSummarize,
		Processor: pipeline.ProcessorFunc(func(ctx context.Context, req pipeline.Request) (json.RawMessage, error) {
			return nil, services.Wrap(services.ErrPermanent, string(stageSummarize), "auth", "key rejected", nil)
		}),
	})
	store := testsupport.MustOpenStore(t, cfg, pipe)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, "doc-1", "{}")
	w := worker.New("w1", store, testController(t, backoff.Policy{MaxAttempts: 5}), false, 1, nil)

	stats, err := w.ProcessOnce(ctx, stageSummarize)
	if err != nil {
		t.Fatalf("ProcessOnce cycle 1: %v", err)
	}
	if stats.Failed != 1 || stats.DeadLettered != 0 {
		t.Fatalf("first cycle must fail without dead-lettering, got %+v", stats)
	}

	stats, err = w.ProcessOnce(ctx, stageSummarize)
	if err != nil {
		t.Fatalf("ProcessOnce cycle 2: %v", err)
	}
	if stats.DeadLettered != 1 {
		t.Fatalf("expected dead letter at the retry ceiling, got %+v", stats)
	}
	state, err := store.StageState(ctx, item.ID, stageSummarize)
	if err != nil {
		t.Fatalf("StageState failed: %v", err)
	}
	if state.Status != backlog.StatusDeadLetter {
		t.Fatalf("expected dead_letter, got %s", state.Status)
	}
	if state.RetryCount != 2 {
		t.Fatalf("expected retry count 2 at dead letter, got %d", state.RetryCount)
	}
}

func TestWorkerUsesFallbackWithinCycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var fallbackCalls atomic.Int32
	pipe := testsupport.NewPipeline(t, pipeline.Definition{
		Name: stageSummarize,
		Processor: pipeline.ProcessorFunc(func(ctx context.Context, req pipeline.Request) (json.RawMessage, error) {
			if !req.UseFallback {
				return nil, services.Wrap(services.ErrTransient, string(stageSummarize), "complete", "primary down", nil)
			}
			fallbackCalls.Add(1)
			return json.RawMessage(`{"ok":true}`), nil
		}),
	})
	store := testsupport.MustOpenStore(t, cfg, pipe)

	ctx := context.Background()
	testsupport.NewItem(t, store, "doc-1", "{}")
	controller := testController(t, backoff.Policy{MaxAttempts: 3, FallbackAfter: 1})
	w := worker.New("w1", store, controller, true, 1, nil)

	stats, err := w.ProcessOnce(ctx, stageSummarize)
	if err != nil {
		t.Fatalf("ProcessOnce returned error: %v", err)
	}
	if stats.Processed != 1 || fallbackCalls.Load() != 1 {
		t.Fatalf("expected fallback success, stats %+v fallback calls %d", stats, fallbackCalls.Load())
	}
}
