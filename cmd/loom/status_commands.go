package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/backlog"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the backlog by stage and status",
		Args:  cobra.NoArgs,
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

			health, err := store.Health(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, health)
			}

			out := cmd.OutOrStdout()
			deadLetters := strconv.Itoa(health.DeadLettered)
			if health.DeadLettered > 0 && isTerminal(out) {
				deadLetters = ansiRed + deadLetters + ansiReset
			}
			fmt.Fprintf(out, "Items: %d  Claimable: %d  In progress: %d  Dead-lettered: %s\n\n",
				health.TotalItems, health.Claimable, health.InProgress, deadLetters)

			rows := make([][]string, 0, len(health.StageCounts))
			for _, stage := range store.Pipeline().Stages() {
				byStatus := health.StageCounts[stage]
				rows = append(rows, []string{
					string(stage),
					strconv.Itoa(byStatus[backlog.StatusPending]),
					strconv.Itoa(byStatus[backlog.StatusInProgress]),
					strconv.Itoa(byStatus[backlog.StatusComplete]),
					strconv.Itoa(byStatus[backlog.StatusDeadLetter]),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Pending", "In Progress", "Complete", "Dead Letter"},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show one item with its stage states and results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, _, err := openStore(cfg, newCommandLogger(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			view, err := store.GetView(cmd.Context(), id)
			if errors.Is(err, backlog.ErrNotFound) {
				return fmt.Errorf("item %d not found", id)
			}
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Item %d  ref=%s  source=%s  created=%s\n\n",
				view.Item.ID, view.Item.PayloadRef, view.Item.Source,
				view.Item.CreatedAt.Local().Format(time.RFC3339))

			rows := make([][]string, 0, len(view.Stages))
			for _, stage := range store.Pipeline().Stages() {
				state, ok := view.Stages[stage]
				if !ok {
					continue
				}
				rows = append(rows, []string{
					string(stage),
					string(state.Status),
					strconv.Itoa(state.RetryCount),
					truncate(state.ResultJSON, 60),
					truncate(state.LastError, 60),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Status", "Retries", "Result", "Last Error"},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newDeadLettersCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List dead-lettered stage executions",
		Args:  cobra.NoArgs,
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

			states, err := store.DeadLetterStates(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, states)
			}

			out := cmd.OutOrStdout()
			if len(states) == 0 {
				fmt.Fprintln(out, "No dead-lettered stages")
				return nil
			}
			rows := make([][]string, 0, len(states))
			for _, state := range states {
				rows = append(rows, []string{
					strconv.FormatInt(state.ItemID, 10),
					string(state.Stage),
					strconv.Itoa(state.RetryCount),
					state.ErrorClass,
					truncate(state.LastError, 80),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Item", "Stage", "Retries", "Class", "Last Error"},
				rows,
			))
			fmt.Fprintln(out, "Requeue with: loom reprocess <item-id> <stage>")
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List enqueued items, oldest first",
		Args:  cobra.NoArgs,
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

			items, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, items)
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "Backlog is empty")
				return nil
			}
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					strconv.FormatInt(item.ID, 10),
					item.PayloadRef,
					item.Source,
					item.CreatedAt.Local().Format(time.RFC3339),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "Ref", "Source", "Created"}, rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of items to list (0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
