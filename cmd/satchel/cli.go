package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/hyperengineering/satchel/pkg/client"
)

var (
	cliAddr       string
	cliToken      string
	cliJSONOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cliAddr, "addr", "http://127.0.0.1:7433",
		"Daemon address (overrides SATCHEL_ADDR)")
	rootCmd.PersistentFlags().StringVar(&cliToken, "token", "",
		"Control API token (overrides SATCHEL_API_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&cliJSONOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(conflictCmd)
	rootCmd.AddCommand(tierCmd)
	rootCmd.AddCommand(tokenCmd)
}

// newAPIClient builds a control API client from flags and environment.
func newAPIClient() (*client.Client, error) {
	addr := cliAddr
	if v := os.Getenv("SATCHEL_ADDR"); v != "" && !rootCmd.PersistentFlags().Changed("addr") {
		addr = v
	}
	token := cliToken
	if token == "" {
		token = os.Getenv("SATCHEL_API_TOKEN")
	}
	return client.New(client.Config{BaseURL: addr, APIToken: token})
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// truncate shortens a string for table display.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s...", s[:max-3])
}
