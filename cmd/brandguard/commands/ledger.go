package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/brandguard/am"
	"github.com/teranos/brandguard/ledger"
	"github.com/teranos/brandguard/logger"
)

// LedgerCmd inspects the recorded audit sessions
var LedgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect recorded audit sessions",
	Long: `Read the audit ledger directly from its sqlite database.
The server records sessions only when database.enabled is set.

Examples:
  brandguard ledger ls                # Most recent sessions
  brandguard ledger ls --limit 5
  brandguard ledger show <session-id>`,
}

var ledgerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent audit sessions",
	RunE:  runLedgerLs,
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one audit session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerShow,
}

var (
	ledgerLimit  int
	ledgerDBPath string
)

func init() {
	LedgerCmd.PersistentFlags().StringVar(&ledgerDBPath, "db-path", "", "Ledger database path (overrides database.path)")
	ledgerLsCmd.Flags().IntVar(&ledgerLimit, "limit", ledger.DefaultListLimit, "Number of sessions to show")

	LedgerCmd.AddCommand(ledgerLsCmd)
	LedgerCmd.AddCommand(ledgerShowCmd)
}

func openLedger() (*ledger.Store, func() error, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	database, _, err := openLedgerDB(cfg, ledgerDBPath)
	if err != nil {
		return nil, nil, err
	}
	return ledger.NewStore(database, logger.ComponentLogger("ledger")), database.Close, nil
}

func runLedgerLs(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openLedger()
	if err != nil {
		return err
	}
	defer closeDB()

	entries, err := store.List(context.Background(), ledgerLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		pterm.Info.Println("No audit sessions recorded")
		return nil
	}

	rows := [][]string{{"Session", "Started", "State", "Status", "Events", "Findings", "Video"}}
	for _, e := range entries {
		rows = append(rows, []string{
			e.SessionID[:min(8, len(e.SessionID))],
			e.StartedAt.Local().Format(time.DateTime),
			e.State,
			e.FinalStatus,
			strconv.Itoa(e.EventCount),
			strconv.Itoa(e.FindingCount),
			e.VideoURL,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openLedger()
	if err != nil {
		return err
	}
	defer closeDB()

	entry, err := store.Get(context.Background(), args[0])
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
