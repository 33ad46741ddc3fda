package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/satchel/pkg/client"
)

var conflictMergedFile string

var conflictCmd = &cobra.Command{
	Use:   "conflict",
	Short: "Inspect and resolve sync conflicts",
}

var conflictListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved conflicts",
	Args:  cobra.NoArgs,
	RunE:  runConflictList,
}

var conflictResolveCmd = &cobra.Command{
	Use:   "resolve <id> <local|remote|merged>",
	Short: "Resolve a conflict by choosing a version",
	Args:  cobra.ExactArgs(2),
	RunE:  runConflictResolve,
}

var conflictDiscardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Discard a conflict without resolving it",
	Args:  cobra.ExactArgs(1),
	RunE:  runConflictDiscard,
}

func init() {
	conflictResolveCmd.Flags().StringVar(&conflictMergedFile, "merged-file", "",
		"File containing the merged payload (required for choice 'merged')")

	conflictCmd.AddCommand(conflictListCmd)
	conflictCmd.AddCommand(conflictResolveCmd)
	conflictCmd.AddCommand(conflictDiscardCmd)
}

func runConflictList(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	conflicts, err := c.Conflicts(context.Background())
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}

	if cliJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"conflicts": conflicts,
			"total":     len(conflicts),
		})
	}

	if len(conflicts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conflicts.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tRECORD\tLOCAL DEVICE\tREMOTE DEVICE\tDETECTED")
	for _, conflict := range conflicts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			conflict.ID,
			conflict.RecordID,
			conflict.Local.DeviceID,
			conflict.Remote.DeviceID,
			conflict.DetectedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	return nil
}

func runConflictResolve(cmd *cobra.Command, args []string) error {
	id, choice := args[0], args[1]

	params := client.ResolveParams{Choice: choice}
	if conflictMergedFile != "" {
		data, err := os.ReadFile(conflictMergedFile)
		if err != nil {
			return fmt.Errorf("read merged payload: %w", err)
		}
		params.MergedPayload = json.RawMessage(data)
	}

	c, err := newAPIClient()
	if err != nil {
		return err
	}

	result, err := c.Resolve(context.Background(), id, params)
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}

	if cliJSONOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}
	if result.QueueID == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Conflict resolved; nothing queued for upload.")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Conflict resolved; queued entry %d for upload.\n", result.QueueID)
	}
	return nil
}

func runConflictDiscard(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	if err := c.Discard(context.Background(), args[0]); err != nil {
		return fmt.Errorf("discard conflict: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Conflict discarded.")
	return nil
}
