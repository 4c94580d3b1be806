package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/brandguard/am"
	"github.com/teranos/brandguard/errors"
	"github.com/teranos/brandguard/internal/httpclient"
	"github.com/teranos/brandguard/ledger"
	"github.com/teranos/brandguard/logger"
	"github.com/teranos/brandguard/pipeline/stages"
	"github.com/teranos/brandguard/rules"
	"github.com/teranos/brandguard/server"
)

// ServerCmd starts the audit WebSocket server
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the audit WebSocket server",
	Long: `Serve audit sessions on /ws/audit. Each connection sends one
{"video_url": "..."} message and receives the pipeline's events until the
run completes, faults or the client leaves.`,
	RunE: runServer,
}

var (
	serverPort   int
	serverDBPath string
	serverRules  string
)

func init() {
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Listen port (overrides server.port)")
	ServerCmd.Flags().StringVar(&serverDBPath, "db-path", "", "Ledger database path (implies database.enabled)")
	ServerCmd.Flags().StringVar(&serverRules, "rules", "", "Rules file, YAML or TOML (overrides rules.path)")
}

func runServer(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		// Session lifecycle is logged at info
		verbosity = 1
		if err := logger.Initialize(logger.JSONOutput, verbosity); err != nil {
			return err
		}
	}
	log := logger.Logger

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}
	if serverRules != "" {
		cfg.Rules.Path = serverRules
	}
	if serverDBPath != "" {
		cfg.Database.Enabled = true
		cfg.Database.Path = serverDBPath
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	active, watcher, err := loadRules(cfg, log.Named("rules"))
	if err != nil {
		return err
	}
	if watcher != nil {
		defer watcher.Stop()
	}

	var store *ledger.Store
	dbPath := ""
	if cfg.Database.Enabled {
		database, path, err := openLedgerDB(cfg, "")
		if err != nil {
			return err
		}
		defer database.Close()
		store = ledger.NewStore(database, log.Named("ledger"))
		dbPath = path
	}

	graph, err := stages.NewGraph(stages.Options{
		GraphName: cfg.Audit.GraphName,
		Ingest: stages.IngestOptions{
			Download:          cfg.Ingest.Download,
			Dir:               cfg.Ingest.DownloadDir,
			AllowLocalSources: cfg.Ingest.AllowLocalSources,
		},
		Fetcher: stages.GetterFetcher{HTTP: httpclient.New(httpclient.Options{
			Timeout:      cfg.FetchTimeout(),
			AllowPrivate: cfg.Ingest.AllowPrivateHosts,
		})},
		Rules:  active,
		Logger: log.Named("pipeline"),
	})
	if err != nil {
		return errors.Wrap(err, "failed to build audit graph")
	}

	srv, err := server.New(server.Options{
		Config:   cfg,
		Executor: graph,
		Ledger:   store,
		Rules:    active,
		Logger:   log,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}

	printStartupBanner(cfg, verbosity, active.Load().Len(), dbPath)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server stopped")
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop()
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

// loadRules builds the active rule set and, when rules.watch is on, a
// started watcher that hot-swaps it
func loadRules(cfg *am.Config, log *zap.SugaredLogger) (*rules.Active, *rules.Watcher, error) {
	if cfg.Rules.Path == "" {
		return rules.NewActive(rules.Default()), nil, nil
	}

	set, err := rules.LoadFile(cfg.Rules.Path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load rules")
	}
	active := rules.NewActive(set)
	log.Infow("Rules loaded", "path", cfg.Rules.Path, "count", set.Len())

	if !cfg.Rules.Watch {
		return active, nil, nil
	}
	watcher, err := rules.NewWatcher(cfg.Rules.Path, active, log)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to watch rules")
	}
	watcher.OnReload(func(set *rules.Set) {
		pterm.Info.Printfln("Rules reloaded: %d rules", set.Len())
	})
	watcher.Start()
	return active, watcher, nil
}
