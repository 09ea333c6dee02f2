// Command contactsdctl is a thin ops/demonstration CLI over the contacts
// engine: it opens the SQLite store, wires the aggregation engine, write
// pipeline and sync-delta protocol together, and exposes them as
// subcommands. It is not the engine's primary interface (spec.md §1 places
// the real CLI/IPC front end out of scope) — this is the harness a human or
// a script uses to drive the library directly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/contactsdb/internal/aggregation"
	"github.com/steveyegge/contactsdb/internal/config"
	"github.com/steveyegge/contactsdb/internal/metrics"
	"github.com/steveyegge/contactsdb/internal/pipeline"
	"github.com/steveyegge/contactsdb/internal/storage/sqlite"
	"github.com/steveyegge/contactsdb/internal/syncdelta"
	"github.com/steveyegge/contactsdb/internal/transient"
)

var (
	dbPath         string
	configPath     string
	jsonOutput     bool
	debugTelemetry bool

	cfg   config.Config
	store *sqlite.Store
	agg   *aggregation.Engine
	pipe  *pipeline.Pipeline
	sync_ *syncdelta.Syncer

	rootCtx context.Context
)

var rootCmd = &cobra.Command{
	Use:           "contactsdctl",
	Short:         "Operate a contacts engine database",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&debugTelemetry, "debug-telemetry", false, "Print metrics/traces to stdout")
}

// setup loads config and opens the store/engine stack shared by every
// subcommand. It is re-entrant-safe: PersistentPreRunE runs once per
// invocation.
func setup(ctx context.Context) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}

	if debugTelemetry {
		if _, err := metrics.Setup(true); err != nil {
			return fmt.Errorf("telemetry setup: %w", err)
		}
	}

	store, err = sqlite.New(ctx, sqlite.Config{
		Path:            cfg.DatabasePath,
		BusyTimeout:     cfg.BusyTimeout,
		MaxElapsedRetry: cfg.MaxElapsedRetry,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	agg = aggregation.New(store).WithAttachThreshold(cfg.AttachThreshold)
	pipe = pipeline.New(store, agg,
		pipeline.WithTransient(transient.NewMemoryStore()),
		pipeline.WithLogger(slog.Default()),
	)
	sync_ = syncdelta.New(store, agg)
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	rootCtx = ctx

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
