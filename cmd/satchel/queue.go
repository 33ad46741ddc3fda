package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the sync outbox",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending queue entries",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove synced and failed entries",
	Args:  cobra.NoArgs,
	RunE:  runQueuePurge,
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queuePurgeCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	entries, err := c.Queue(context.Background())
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}

	if cliJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"entries": entries,
			"total":   len(entries),
		})
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tOPERATION\tRECORD\tRETRIES\tENQUEUED\tLAST ERROR")
	for _, e := range entries {
		lastErr := e.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
			e.ID,
			e.Operation,
			e.RecordID,
			e.RetryCount,
			e.EnqueuedAt.Format("2006-01-02 15:04"),
			truncate(lastErr, 40),
		)
	}
	w.Flush()

	return nil
}

func runQueuePurge(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	purged, err := c.PurgeCompleted(context.Background())
	if err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}

	if cliJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]int64{"purged": purged})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d completed entries.\n", purged)
	return nil
}
