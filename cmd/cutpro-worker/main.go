// Command cutpro-worker exports recorded transactions and unlocked
// achievements to Google Sheets. It reacts to ledger events from AMQP and
// sweeps rows still pending on a timer, so exports survive lost messages.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"cutpro/internal/cli"
	gsheet "cutpro/internal/sheets/google"
	"cutpro/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(cli.SetupLogger(os.Getenv("LOG_LEVEL")))
	logger := cli.SetupLogger(cfg.LogLevel)

	logger.Info("Starting cutpro-worker")

	if !cfg.ExportConfigured() {
		logger.Error("GOOGLE_SPREADSHEET_ID is required for the export worker")
		os.Exit(1)
	}
	if cfg.DataBackend != "sqlite" {
		logger.Warn("Export worker is running on a non-shared backend; only rows written by this process are visible",
			"backend", cfg.DataBackend)
	}

	res := cli.OpenBackend(context.Background(), logger, cfg)

	sheetsClient, err := gsheet.New(context.Background(), gsheet.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		TransactionsSheet:  cfg.GoogleTransactionsSheet,
		AchievementsSheet:  cfg.GoogleAchievementsSheet,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
		OAuthClientJSON:    cfg.GoogleOAuthClientJSON,
		OAuthClientFile:    cfg.GoogleOAuthClientFile,
		OAuthTokenJSON:     cfg.GoogleOAuthTokenJSON,
		OAuthTokenFile:     cfg.GoogleOAuthTokenFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		_ = res.Cleanup()
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	exporter := worker.NewExportWorker(res.Backend, sheetsClient, cfg.SyncBatchSize)
	sweeper := worker.NewPoller("export-sweep", cfg.SyncInterval, exporter.ExportPending)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := sweeper.Stop(ctx); err != nil {
			logger.Warn("Sweeper stop", "error", err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	if err := sheetsClient.EnsureHeaders(ctx); err != nil {
		logger.Warn("Could not write sheet headers", "error", err)
	}

	logger.Info("Performing startup sync check...")
	if err := exporter.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", "error", err)
	}

	if err := sweeper.Start(ctx); err != nil {
		logger.Error("Failed to start sweeper", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if res.AMQP != nil {
		g.Go(func() error {
			err := res.AMQP.ConsumeEvents(gctx, exporter.HandleEvent)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("AMQP not configured; relying on periodic sweeps only", "interval", cfg.SyncInterval)
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		_ = res.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
