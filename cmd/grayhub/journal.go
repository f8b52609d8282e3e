package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/journal"
)

func newJournalCmd() *cobra.Command {
	var (
		filter   journal.Filter
		category string
		since    time.Duration
		file     string
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print diagnostics journal entries",
		Long:  `Prints rejected, wrong-value and unconfirmed device updates scheduler task faults and telemetry write failures recorded by the hub, oldest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := file
			if path == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				path = cfg.Journal.Path
			}

			switch category {
			case "":
			case journal.CategoryUpdate.String():
				filter.Category = journal.CategoryUpdate
			case journal.CategoryTask.String():
				filter.Category = journal.CategoryTask
			case journal.CategorySink.String():
				filter.Category = journal.CategorySink
			default:
				return fmt.Errorf("unknown category %q (want update, task or sink)", category)
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			return printJournal(cmd.OutOrStdout(), path, filter)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Journal file (default: journal.path from config)")
	cmd.Flags().Int64Var(&filter.DeviceID, "device", 0, "Only entries for this device id")
	cmd.Flags().StringVar(&filter.Outcome, "outcome", "", "Only entries with this outcome, e.g. unconfirmed")
	cmd.Flags().StringVar(&filter.Session, "session", "", "Only entries from this hub session")
	cmd.Flags().StringVar(&category, "category", "", "Only update, task or sink entries")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this, e.g. 24h")
	return cmd
}

func printJournal(w io.Writer, path string, filter journal.Filter) error {
	r, err := journal.NewReader(path, filter)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck // read-only

	n := 0
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading journal: %w", err)
		}
		fmt.Fprintln(w, e.String())
		n++
	}
	fmt.Fprintf(w, "%d entries\n", n)
	return nil
}
