package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/canview/internal/config"
	"github.com/JonMunkholm/canview/internal/core"
	"github.com/JonMunkholm/canview/internal/core/formats"
	"github.com/JonMunkholm/canview/internal/logging"
	"github.com/JonMunkholm/canview/internal/web"
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

	slog.Info("configuration loaded", "config", cfg.String())

	service := core.NewService(core.Options{
		MaxConcurrentDecodes: cfg.Decode.MaxConcurrent,
		MaxDecodeWait:        cfg.Decode.MaxWaitTime,
		DecodeTimeout:        cfg.Decode.Timeout,
		SessionTTL:           cfg.Session.TTL,
		MaxSessions:          cfg.Session.MaxSessions,
		TraceDecoders: map[string]core.TraceDecoder{
			".blf": formats.BLFDecoder{AllContainers: cfg.Decode.BLFAllContainers},
		},
	})

	// Log registered formats
	slog.Info("formats registered",
		"count", core.FormatCount(),
		"traces", len(core.ByKind(core.KindTrace)),
		"databases", len(core.ByKind(core.KindDatabase)),
	)

	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartSessionReaper(jobCtx, cfg.Session.ReapInterval)

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

		// Wait for active decodes to complete (with timeout)
		if status := service.DecoderStatus(); status.Active > 0 {
			slog.Info("waiting for decodes to complete", "active", status.Active)
			if err := service.WaitForDecodes(shutdownCtx); err != nil {
				slog.Warn("decodes did not complete in time", "error", err)
			} else {
				slog.Info("all decodes completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
