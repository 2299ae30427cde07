// Command server runs the chat API as a plain HTTP server for local
// development and container deployments.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"health-companion/internal/app"
	"health-companion/internal/config"
	"health-companion/internal/observability"
)

const serviceName = "health-companion"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	slog.SetDefault(observability.Logger())

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	shutdownTelemetry, err := observability.SetupTelemetry(cfg.Telemetry, serviceName, os.Stdout)
	if err != nil {
		slog.Error("failed to set up telemetry", "err", err)
		os.Exit(1)
	}

	h, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build handler", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ProviderTimeout+5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = shutdownTelemetry(shutdownCtx)
	}()

	slog.Info("listening", "addr", srv.Addr, "provider", cfg.Provider, "session_store", cfg.SessionStore)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
	<-stopped
}
