package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var text string
	var fromFile string
	var source string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "add <payload-ref>",
		Short: "Enqueue a document for enrichment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			payload := strings.TrimSpace(text)
			if fromFile != "" {
				if payload != "" {
					return errors.New("use either --text or --file, not both")
				}
				data, err := os.ReadFile(fromFile)
				if err != nil {
					return fmt.Errorf("read payload file: %w", err)
				}
				payload = strings.TrimSpace(string(data))
			}
			if payload == "" {
				return errors.New("payload is required; pass --text or --file")
			}

			logger := newCommandLogger(cfg)
			store, _, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			item, err := store.Enqueue(cmd.Context(), args[0], payload, source)
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"id":          item.ID,
					"payload_ref": item.PayloadRef,
					"stages":      store.Pipeline().Stages(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued item %d (%s) across %d stages\n",
				item.ID, item.PayloadRef, len(store.Pipeline().Stages()))
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Document text to enqueue")
	cmd.Flags().StringVar(&fromFile, "file", "", "Read the document text from a file")
	cmd.Flags().StringVar(&source, "source", "cli", "Origin label stored with the item")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
