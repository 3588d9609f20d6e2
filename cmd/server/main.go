/*
main.go - Application entry point

PURPOSE:
  Command-line entry point for the CHRONOS capital ledger. Builds the
  cobra command tree and wires configuration, logging, storage and the
  Orchestrator for every subcommand.

COMMANDS:
  serve     HTTP API with graceful shutdown and the periodic audit
  accounts  Print the seven account balances
  audit     Run the replay audit once (exit 1 on violation)

CONFIGURATION:
  Environment variables (optionally from .env), see internal/config.
  Flags override them:
    --port     PORT
    --db       DB_PATH (":memory:" for an ephemeral database)
    --log-level LOG_LEVEL

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit scheduler
  4. Close database connection

EXAMPLES:
  ./server serve --db=./data/chronos.db
  ./server serve --db=":memory:" --port=3000
  SEED_SCENARIO=operacion-basica ./server serve --db=":memory:"
  ./server audit --db=./data/chronos.db

SEE ALSO:
  - api/server.go: Router configuration
  - ledger/orchestrator.go: The Orchestrator
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/warp/chronos-ledger/internal/config"
	"github.com/warp/chronos-ledger/internal/logger"
	"github.com/warp/chronos-ledger/internal/metrics"
	"github.com/warp/chronos-ledger/ledger"
	"github.com/warp/chronos-ledger/store/sqlite"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "server",
		Short:         "CHRONOS capital ledger",
		Long:          "CHRONOS tracks capital across seven fixed accounts and books sales, purchase orders and transfers atomically.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("db", "", "SQLite database path (env DB_PATH)")
	root.PersistentFlags().String("log-level", "", "Log level (env LOG_LEVEL)")
	_ = v.BindPFlag("DB_PATH", root.PersistentFlags().Lookup("db"))
	_ = v.BindPFlag("LOG_LEVEL", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCmd(v), newAccountsCmd(v), newAuditCmd(v))
	return root
}

// app is what every subcommand needs.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    *sqlite.Store
	ledger   *ledger.Orchestrator
	registry *prometheus.Registry
	closers  []io.Closer
}

func newApp(v *viper.Viper) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	logCloser, err := logger.Setup(logger.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.WithComponent("main")

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewLedger(registry, metrics.Config{ServiceName: "chronos-ledger", Environment: cfg.Env})

	orch := ledger.NewOrchestrator(store,
		ledger.WithLogger(logger.WithComponent("ledger")),
		ledger.WithRecorder(rec),
		ledger.WithRetryPolicy(ledger.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		}),
	)

	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		ledger:   orch,
		registry: registry,
		closers:  []io.Closer{store, logCloser},
	}, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
}
