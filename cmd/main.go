package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"health-companion/internal/app"
	"health-companion/internal/config"
	"health-companion/internal/observability"
)

const serviceName = "health-companion"

func main() {
	ctx := context.Background()
	slog.SetDefault(observability.Logger())

	// ---- Configuration (read only here) ----
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

	// ---- Handler ----
	h, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build handler", "err", err)
		os.Exit(1)
	}

	slog.Info("starting lambda", "provider", cfg.Provider, "session_store", cfg.SessionStore)
	// Flush buffered metrics when the runtime shuts the function down.
	lambda.StartWithOptions(h.Handle, lambda.WithEnableSIGTERM(func() {
		_ = shutdownTelemetry(context.Background())
	}))
}
