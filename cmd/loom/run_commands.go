package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"loom/internal/backoff"
	"loom/internal/pipeline"
	"loom/internal/worker"
)

func newRunBatchCommand(ctx *commandContext) *cobra.Command {
	var stageFlag string
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "run-batch",
		Short: "Process the backlog until it is drained, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := newCommandLogger(cfg)
			store, providers, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			controller := backoff.New(backoff.PolicyFromConfig(cfg.Backoff), logger)
			pool := worker.NewPool(cfg, store, controller, providers.HasFallback(), logger)

			stats, err := pool.RunBatch(runCtx, worker.BatchOptions{
				Stage: pipeline.Stage(strings.TrimSpace(stageFlag)),
				Limit: limit,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"processed":     stats.Processed,
					"failed":        stats.Failed,
					"dead_lettered": stats.DeadLettered,
					"interrupted":   errors.Is(err, context.Canceled),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Processed %d stage executions (%d failed, %d dead-lettered)\n",
				stats.Processed, stats.Failed, stats.DeadLettered)
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(out, "Interrupted before the backlog was drained")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stageFlag, "stage", "", "Process only this stage")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many stage executions (0 for no cap)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the backlog continuously until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if workers > 0 {
				// Copy before overriding so other commands sharing the
				// loaded config keep the configured pool size.
				override := *cfg
				override.Workers.Count = workers
				cfg = &override
			}
			logger := newCommandLogger(cfg)
			store, providers, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			controller := backoff.New(backoff.PolicyFromConfig(cfg.Backoff), logger)
			pool := worker.NewPool(cfg, store, controller, providers.HasFallback(), logger)

			if err := pool.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Shut down cleanly")
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Override the configured worker count")
	return cmd
}
