package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/brandguard/cmd/brandguard/commands"
	"github.com/teranos/brandguard/logger"
)

var rootCmd = &cobra.Command{
	Use:   "brandguard",
	Short: "brandguard - streaming video compliance audits",
	Long: `brandguard - streaming video compliance audits.

Runs the audit pipeline (indexer, transcriber, ocr, auditor, reporter) for
each WebSocket client and relays every pipeline event back as it happens.

Available commands:
  server - Start the audit WebSocket server
  audit  - Audit one video against a running server
  ledger - Inspect recorded audit sessions
  am     - Show and validate configuration ("I am")

Examples:
  brandguard server -v                              # Serve on server.port
  brandguard audit https://youtu.be/dQw4w9WgXcQ     # Stream an audit
  brandguard am show --format json                  # Effective configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.AuditCmd)
	rootCmd.AddCommand(commands.LedgerCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
