package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	status, err := c.Status(context.Background())
	if err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}

	if cliJSONOutput {
		return printJSON(cmd.OutOrStdout(), status)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tier:       %s\n", status.Tier)
	fmt.Fprintf(out, "Pending:    %d\n", status.Pending)
	fmt.Fprintf(out, "Failed:     %d\n", status.Failed)
	fmt.Fprintf(out, "Conflicts:  %d\n", status.Conflicts)
	fmt.Fprintf(out, "Paused:     %t\n", status.Paused)
	if status.LastSyncTime.IsZero() {
		fmt.Fprintln(out, "Last sync:  never")
	} else {
		fmt.Fprintf(out, "Last sync:  %s\n", status.LastSyncTime.Format("2006-01-02 15:04:05"))
	}
	if status.LastError != "" {
		fmt.Fprintf(out, "Last error: %s\n", status.LastError)
	}
	return nil
}
