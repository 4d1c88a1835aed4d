package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"stayledger/internal/client"
	"stayledger/internal/config"
	"stayledger/internal/database"
	"stayledger/internal/export"
	"stayledger/internal/logging"
	"stayledger/internal/models"
	"stayledger/internal/service"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config.yaml")
		skipRepair = flag.Bool("no-repair", false, "skip the reconciliation pass")
		exportFrom = flag.String("export-from", "", "first day of the ledger export, YYYY-MM-DD")
		exportTo   = flag.String("export-to", "", "last day of the ledger export, YYYY-MM-DD (inclusive)")
		timeout    = flag.Duration("timeout", 5*time.Minute, "overall deadline")
		remote     = flag.String("remote", "", "reconcile through a running API at this base URL instead of the local database")
		adminID    = flag.Int64("admin-id", 0, "admin user id for -remote")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	logger := baseLogger.With().Str("component", "reconcile-cli").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *remote != "" {
		c := client.New(*remote, os.Getenv("STAYLEDGER_API_KEY"), os.Getenv("STAYLEDGER_API_EXTRA")).As(*adminID)
		report, err := c.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("remote reconcile: %w", err)
		}
		logReport(&logger, report)
		return nil
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if !*skipRepair {
		report, err := service.NewReconciler(db, cfg.IsAdmin, &logger).Run(ctx)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		logReport(&logger, report)
	}

	if *exportFrom == "" && *exportTo == "" {
		return nil
	}
	from, err := models.ParseDate(*exportFrom)
	if err != nil {
		return fmt.Errorf("export-from: %w", err)
	}
	to, err := models.ParseDate(*exportTo)
	if err != nil {
		return fmt.Errorf("export-to: %w", err)
	}

	path, err := export.NewLedgerExporter(db, cfg.Exports.Path, &logger).SaveFile(ctx, from, to.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("export ledger: %w", err)
	}
	fmt.Println(path)
	return nil
}

func logReport(logger *zerolog.Logger, report *service.ReconcileReport) {
	for _, r := range report.Repairs {
		logger.Info().Int64("payment_id", r.PaymentID).Str("kind", r.Kind).Str("detail", r.Detail).Msg("repaired")
	}
	logger.Info().
		Int("checked", report.Checked).
		Int("repaired", report.Repaired).
		Int("open_cases", report.OpenCases).
		Msg("reconciliation finished")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
