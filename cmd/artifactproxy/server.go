package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitaliisemenov/artifactproxy/internal/appconfig"
)

// startMetricsServer runs the Prometheus exposition endpoint on its own
// listener, separate from the artifact-serving port, so a scraper never
// competes with client traffic for the same accept queue.
func startMetricsServer(cfg appconfig.MetricsConfig, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		logger.Info("metrics server listening", "addr", cfg.Addr, "path", cfg.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

// waitForShutdown blocks until SIGINT/SIGTERM or the server fails on its
// own, then drains in-flight requests within the configured timeout.
func waitForShutdown(server *http.Server, cfg *appconfig.Config, logger *slog.Logger, errCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			return err
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return err
	}

	logger.Info("artifactproxy stopped")
	return nil
}
