package testsupport

import (
	"context"
	"testing"

	"loom/internal/backlog"
	"loom/internal/config"
	"loom/internal/pipeline"
)

// MustOpenStore opens a backlog.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, pipe *pipeline.Pipeline) *backlog.Store {
	t.Helper()

	store, err := backlog.Open(cfg, pipe)
	if err != nil {
		t.Fatalf("backlog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewItem enqueues a work item for tests using the provided store.
func NewItem(t testing.TB, store *backlog.Store, payloadRef, payload string) *backlog.Item {
	t.Helper()

	item, err := store.Enqueue(context.Background(), payloadRef, payload, "test")
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return item
}

// NewPipeline builds a pipeline from stage definitions, failing the test on
// validation errors.
func NewPipeline(t testing.TB, defs ...pipeline.Definition) *pipeline.Pipeline {
	t.Helper()

	pipe, err := pipeline.New(defs...)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return pipe
}
