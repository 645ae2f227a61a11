package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/app"
	"github.com/dharsanguruparan/surveyfiles/internal/config"
	"github.com/dharsanguruparan/surveyfiles/internal/database"
	"github.com/dharsanguruparan/surveyfiles/internal/logging"
)

var configFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "surveyfiles: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "surveyfiles",
		Short: "Survey file ingestion service",
		Long: `surveyfiles runs the survey file API and its processing worker, and
offers operator commands for schema migrations, tenant quotas and stuck uploads.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Optional YAML/TOML config file; the environment still takes precedence")
	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newMigrateCmd(),
		newQuotaCmd(),
		newRequeueCmd(),
	)
	return cmd
}

// setup loads configuration and the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Development(), cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func withApp(ctx context.Context, opts app.Options, fn func(*app.App) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	a, err := app.Open(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the inline processing pool when configured)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{Migrate: true}, func(a *app.App) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the asynq processing worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{Migrate: true}, func(a *app.App) error {
				return a.Work(cmd.Context())
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if cfg.Database.Driver != config.StoreDriverPostgres {
				return fmt.Errorf("migrate needs STORE_DRIVER=%s, got %q", config.StoreDriverPostgres, cfg.Database.Driver)
			}
			return database.Migrate(cfg.Database.URL, logger)
		},
	}
}

func newQuotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect tenant storage quotas",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <tenant-id>",
		Short: "Print a tenant's quota policy and usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{SkipStorage: true}, func(a *app.App) error {
				entry, err := a.Ledger.Entry(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entry)
			})
		},
	})
	return cmd
}

func newRequeueCmd() *cobra.Command {
	var olderThan time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Dispatch uploads that never left the uploading state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				n, err := a.Requeue(cmd.Context(), olderThan, limit)
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d uploads\n", n)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 10*time.Minute, "Only requeue uploads created before now minus this duration")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of uploads to requeue")
	return cmd
}
