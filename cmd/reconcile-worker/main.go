// Command reconcile-worker periodically re-derives every profile's balance,
// XP and level from the transaction and achievement logs, repairing drift
// caused by out-of-band edits to the database.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"cutpro/internal/cli"
	"cutpro/internal/services"
	"cutpro/internal/worker"
)

func main() {
	once := flag.Bool("once", false, "reconcile every owner once and exit")
	flag.Parse()

	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(cli.SetupLogger(os.Getenv("LOG_LEVEL")))
	logger := cli.SetupLogger(cfg.LogLevel)

	res := cli.OpenBackend(context.Background(), logger, cfg)
	reconciler := services.NewReconciler(res.Backend)

	if *once {
		fixed, err := reconciler.ReconcileAll(context.Background())
		_ = res.Cleanup()
		if err != nil {
			logger.Error("Reconcile failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Reconcile complete", "profiles_fixed", fixed)
		return
	}

	poller := worker.NewPoller("reconcile", cfg.ReconcileInterval, func(ctx context.Context) error {
		fixed, err := reconciler.ReconcileAll(ctx)
		if err != nil {
			return err
		}
		if fixed > 0 {
			logger.Info("Profiles reconciled", "profiles_fixed", fixed)
		}
		return nil
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := poller.Stop(ctx); err != nil {
			logger.Warn("Reconcile poller stop", "error", err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	logger.Info("Starting reconcile-worker", "interval", cfg.ReconcileInterval, "backend", cfg.DataBackend)
	if err := poller.Start(ctx); err != nil {
		logger.Error("Failed to start reconcile poller", "error", err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
}
