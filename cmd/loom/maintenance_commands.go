package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"loom/internal/enrich"
	"loom/internal/pipeline"
)

func newReprocessCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocess <item-id> <stage>",
		Short: "Requeue a stage and everything downstream of it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			stage := pipeline.Stage(args[1])

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, _, err := openStore(cfg, newCommandLogger(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Reprocess(cmd.Context(), id, stage); err != nil {
				return err
			}

			affected := append([]pipeline.Stage{stage}, store.Pipeline().Downstream(stage)...)
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued item %d: %d stage(s) reset\n", id, len(affected))
			return nil
		},
	}
	return cmd
}

func newResetStuckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Force all in-progress claims back to pending",
		Long: "Returns every in-progress stage to pending regardless of lease age. " +
			"Only use this when no workers are running; live claims are normally " +
			"recovered by the lease sweep.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, _, err := openStore(cfg, newCommandLogger(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			reset, err := store.ResetStuck(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d claim(s)\n", reset)
			return nil
		},
	}
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

func newHealthCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Verify the configured completion providers are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			providers := buildProviders(cfg)
			out := cmd.OutOrStdout()

			for _, provider := range []enrich.Provider{providers.Primary, providers.Fallback} {
				if provider == nil {
					continue
				}
				checker, ok := provider.(healthChecker)
				if !ok {
					continue
				}
				if err := checker.HealthCheck(cmd.Context()); err != nil {
					return fmt.Errorf("%s: %w", provider.Name(), err)
				}
				fmt.Fprintf(out, "%s: OK\n", provider.Name())
			}
			return nil
		},
	}
}
