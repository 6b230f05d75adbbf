// Command upholder runs the standing database performance monitor
// (the "auto-upholder"): query analysis, index auditing, and cache
// hit-ratio sampling on a schedule, or as one-off passes from the CLI.
//
// Usage:
//
//	upholder run
//	upholder audit
//	upholder status
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/scoracle-data/infrastructure/database"
	"github.com/albapepper/scoracle-data/infrastructure/upholder"
	"github.com/albapepper/scoracle-data/internal/config"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	slog.SetDefault(logger)
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "upholder",
		Short: "Database performance monitor for scoracle-data",
	}
	root.AddCommand(newRunCmd(), newAuditCmd(), newStatusCmd())

	if err := root.Execute(); err != nil {
		logger.Error("upholder command failed", "error", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var dryRun bool
	var autoApplySafe bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the audit cycle and cache sampler on a schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			pool, err := dialPool(ctx)
			if err != nil {
				return err
			}
			defer pool.CloseAll(context.Background())

			cfg := upholder.DefaultConfig()
			cfg.DryRun = dryRun
			cfg.AutoApplySafe = autoApplySafe

			u := upholder.New(pool, cfg, logger)
			u.RegisterAlertSink(upholder.NewLogSink(logger))
			u.RegisterReportSink(upholder.NewLogSink(logger))

			if err := u.Start(); err != nil {
				return fmt.Errorf("start upholder: %w", err)
			}
			logger.Info("upholder running", "dry_run", cfg.DryRun, "auto_apply_safe", cfg.AutoApplySafe)

			<-ctx.Done()
			logger.Info("shutting down upholder")
			return u.Stop(15 * time.Second)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "block all DDL, even the safe-apply set")
	cmd.Flags().BoolVar(&autoApplySafe, "auto-apply-safe", false, "apply safe CREATE INDEX findings automatically")
	return cmd
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run a single audit cycle and print the resulting report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			pool, err := dialPool(ctx)
			if err != nil {
				return err
			}
			defer pool.CloseAll(context.Background())

			u := upholder.New(pool, upholder.DefaultConfig(), logger)
			if err := u.Start(); err != nil {
				return fmt.Errorf("start upholder: %w", err)
			}
			defer u.Stop(5 * time.Second)

			report, err := u.TriggerAudit()
			if err != nil {
				return fmt.Errorf("trigger audit: %w", err)
			}
			return printJSON(report)
		},
	}
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect to the database and print pool and table/index health as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			pool, err := dialPool(ctx)
			if err != nil {
				return err
			}
			defer pool.CloseAll(context.Background())

			u := upholder.New(pool, upholder.DefaultConfig(), logger)
			if err := u.Start(); err != nil {
				return fmt.Errorf("start upholder: %w", err)
			}
			defer u.Stop(5 * time.Second)

			return printJSON(u.Status())
		},
	}
	return cmd
}

func dialPool(ctx context.Context) (*database.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	dbCfg := database.DefaultConfig(cfg.DatabaseURL)
	dbCfg.Logger = logger
	pool, err := database.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	return pool, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
