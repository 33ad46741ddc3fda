package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var tierCmd = &cobra.Command{
	Use:   "tier",
	Short: "Show or change the privacy tier",
}

var tierGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current privacy tier",
	Args:  cobra.NoArgs,
	RunE:  runTierGet,
}

var tierSetCmd = &cobra.Command{
	Use:   "set <local_only|analytics_sync|full_sync>",
	Short: "Transition to a different privacy tier",
	Args:  cobra.ExactArgs(1),
	RunE:  runTierSet,
}

func init() {
	tierCmd.AddCommand(tierGetCmd)
	tierCmd.AddCommand(tierSetCmd)
}

func runTierGet(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	current, err := c.Tier(context.Background())
	if err != nil {
		return fmt.Errorf("fetch tier: %w", err)
	}

	if cliJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]string{"privacy_tier": current})
	}
	fmt.Fprintln(cmd.OutOrStdout(), current)
	return nil
}

func runTierSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, err := newAPIClient()
	if err != nil {
		return err
	}

	// Read the current tier first; the daemon refuses stale transitions.
	current, err := c.Tier(ctx)
	if err != nil {
		return fmt.Errorf("fetch tier: %w", err)
	}

	target := args[0]
	if current == target {
		fmt.Fprintf(cmd.OutOrStdout(), "Already at %s.\n", target)
		return nil
	}

	if err := c.SetTier(ctx, current, target); err != nil {
		return fmt.Errorf("set tier: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Tier changed: %s -> %s\n", current, target)
	return nil
}
