package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/ndbmedicine/internal/application"
	"github.com/JonMunkholm/ndbmedicine/internal/config"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	_ "github.com/JonMunkholm/ndbmedicine/internal/core/layouts" // Register all layouts
	"github.com/JonMunkholm/ndbmedicine/internal/logging"
	"github.com/JonMunkholm/ndbmedicine/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"database", cfg.Database.Enabled(),
		"s3_mirror", cfg.Storage.Enabled(),
		"source_dir", cfg.Source.Dir,
		"extract_max_concurrent_runs", cfg.Extract.MaxConcurrentRuns,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()
	app, err := application.New(ctx, cfg, application.Options{Sink: true})
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	slog.Info("layouts registered", "count", len(core.Layouts()))

	server := web.NewServer(web.Deps{
		Service: app.Service,
		Index:   app.Index,
		Mirror:  app.Mirror(""),
	}, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	// Catalog refresh runs once immediately, then on the configured interval
	go app.Service.StartRefreshScheduler(jobCtx, app.RefreshConfig())

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active runs to complete (with timeout)
		status := app.Service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for extractions to complete", "active", status.Active)
			if err := app.Service.WaitForRuns(shutdownCtx); err != nil {
				slog.Warn("extractions did not complete in time", "error", err)
			} else {
				slog.Info("all extractions completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
