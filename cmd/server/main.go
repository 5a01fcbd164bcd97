// Package main is the entry point of the folio portfolio engine. It serves the
// HTTP API and keeps every user's daily value series current in the background.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/di"
	"github.com/aristath/folio/internal/server"
	"github.com/aristath/folio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting folio")

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	container.Start()

	// Bring every series up to date once at boot, the cron run may be hours away
	go func() {
		if err := container.Scheduler.RunNow(jobs.ReconcileAll); err != nil {
			log.Error().Err(err).Msg("Startup reconcile failed")
		}
	}()

	srv := server.New(server.Config{
		Log:       log,
		Container: container,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,

		WSOriginPatterns: cfg.WSOriginPatterns,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop accepting requests first so nothing enqueues into a stopped processor
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.Close()
	log.Info().Msg("Server stopped")
}
