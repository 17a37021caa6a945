package testsupport

import (
	"path/filepath"
	"testing"

	"loom/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.LLM.APIKey = "test"
	cfg.Workers.PollInterval = 1
	cfg.Workers.ErrorRetryInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithLeaseTTL overrides the claim lease in seconds on the test config.
func WithLeaseTTL(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workers.LeaseTTL = seconds
	}
}

// WithMaxRetries overrides the per-stage retry budget on the test config.
func WithMaxRetries(budget int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workers.MaxRetries = budget
	}
}

// WithBatchSize overrides the claim batch size on the test config.
func WithBatchSize(size int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workers.BatchSize = size
	}
}
