package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jimdaga/plan-adjust/internal/config"
	"github.com/jimdaga/plan-adjust/internal/database"
	"github.com/jimdaga/plan-adjust/internal/worker"
)

// Run modes
const (
	modeServer   = "server"
	modeWorker   = "worker"
	modeEmbedded = "embedded"
)

var (
	cfg    *config.Config
	logger *slog.Logger

	// Flag overrides for environment config
	logLevel string
	port     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "plan-adjust",
	Short: "Adjustment approval engine",
	Long: `plan-adjust decides whether proposed plan adjustments are applied
automatically after a grace period, held for the user's approval, or
suppressed, and tracks each one until it is settled.

Run without a subcommand to start in the mode named by MODE
(server, worker or embedded).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if port != "" {
			cfg.Port = port
		}
		logger = worker.NewLogger(cfg.LogLevel, cfg.LogFormat)
		slog.SetDefault(logger)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cfg.Mode)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and consume candidate submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(modeServer)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the grace-period sweep and auto-apply tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(modeWorker)
	},
}

var embeddedCmd = &cobra.Command{
	Use:   "embedded",
	Short: "Run the API and the worker in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(modeEmbedded)
	},
}

// sweepCmd runs one sweep outside the scheduler, e.g. from a cron job
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one grace-period sweep and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		result, err := a.services.sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Init(cfg.DatabaseURL, database.DefaultPoolOptions)
		if err != nil {
			return err
		}
		defer database.Close(db)
		return database.RunMigrations(db)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&port, "port", "", "HTTP port (overrides PORT)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(embeddedCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMode(mode string) error {
	a, err := bootstrap(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch mode {
	case modeWorker:
		return runWorker(cfg, a.services, logger)
	case modeServer:
		return runServer(cfg, a.services, logger, false)
	case modeEmbedded:
		return runServer(cfg, a.services, logger, true)
	default:
		return fmt.Errorf("unknown mode %q (want server, worker or embedded)", mode)
	}
}
