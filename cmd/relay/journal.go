package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/astromechza/text-relay/pkg/journal"
)

func newJournalCommand() *cobra.Command {
	var path string
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the most recent entries of a relay journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			j, err := journal.Open(path)
			if err != nil {
				return err
			}
			defer j.Close()
			entries, err := j.Recent(ctx, limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%4d  %s  %s  %q\n", e.ID, e.Timestamp, e.Message, e.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "journal.sqlite3", "the journal file to read")
	cmd.Flags().IntVar(&limit, "limit", 50, "the number of entries to print")
	return cmd
}
