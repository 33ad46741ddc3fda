package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the backend auth token",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <token>",
	Short: "Store a fresh backend token and resume sync",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenSet,
}

func init() {
	tokenCmd.AddCommand(tokenSetCmd)
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	if err := c.SetAuthToken(context.Background(), args[0]); err != nil {
		return fmt.Errorf("set token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Token stored; sync resumed.")
	return nil
}
