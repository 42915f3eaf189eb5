package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bueste/switchbackup/internal/api"
	"github.com/bueste/switchbackup/pkg/models"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run backups on a schedule and serve snapshots over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger
	cfg := a.config.Serve

	// The device list must be readable at startup; later reload failures only skip a run.
	if _, err := a.devices.Reload(); err != nil {
		logger.Error("unable to read device list", zap.Error(err))
		return err
	}

	scheduler := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(zap.NewStdLog(logger))),
		cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(logger))),
	))
	job := func() {
		if _, err := a.runOnce(ctx); err != nil {
			logger.Error("scheduled backup run skipped", zap.Error(err))
		}
	}
	if _, err := scheduler.AddFunc(cfg.Schedule, job); err != nil {
		return fmt.Errorf("%w: serve.schedule %q: %v", models.ErrFatalConfig, cfg.Schedule, err)
	}

	e := newServer(a, logger)

	scheduler.Start()
	logger.Info("backup scheduler started",
		zap.String("schedule", cfg.Schedule),
		zap.String("backup_root", a.store.Root()),
	)
	if cfg.RunOnStart {
		go job()
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", zap.String("address", cfg.Addr))
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-serverErr:
		logger.Error("HTTP server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	// Wait for a run in progress to finish its current device.
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("backup run still in progress at shutdown")
	}
	return runErr
}

func newServer(a *app, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))

	handler := api.NewHandler(a.devices, a.store, a.history, a.metrics.Registry(), logger)
	handler.RegisterRoutes(e)
	return e
}
