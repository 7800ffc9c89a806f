package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"cutpro/internal/cli"
	apphttp "cutpro/internal/http"
	applog "cutpro/internal/log"
	"cutpro/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(cli.SetupLogger(os.Getenv("LOG_LEVEL")))
	logger := cli.SetupLogger(cfg.LogLevel)

	res := cli.OpenBackend(context.Background(), logger, cfg)
	svc := services.NewProgressionService(res.Backend, res.Publisher)

	var ready func(context.Context) error
	if p, ok := res.Backend.(interface{ Ping(context.Context) error }); ok {
		ready = p.Ping
	}

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		AuthHeader:         cfg.AuthHeader,
		IdentityCookie:     cfg.IdentityCookie,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Categories:         res.Backend,
		Ready:              ready,
		Logger:             applog.New(applog.Config{Component: applog.ComponentApp, Handler: logger.Handler()}),
	})
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	logger.Info("Starting cutpro server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"events", res.Publisher.Enabled(),
		"auth_header", cfg.AuthHeader != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		_ = res.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
