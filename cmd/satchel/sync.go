package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger an immediate sync cycle",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	if err := c.SyncNow(context.Background()); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Sync cycle completed.")
	return nil
}
