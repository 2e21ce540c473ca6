// Package main implements the entry point for the VidVerse service.
// It loads configuration, wires all components and serves HTTP until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vidverse/vidverse-go/internal/app"
	"github.com/vidverse/vidverse-go/internal/config"
	"github.com/vidverse/vidverse-go/internal/telemetry"
)

// version is set at build time.
var version = "dev"

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.IsDev() {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	tp, err := telemetry.InitTracer(telemetry.ServiceName, version)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx, tp)
	}()

	buildCtx, cancelBuild := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.Build(buildCtx, cfg, logger)
	cancelBuild()
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Uploads can be large and writes wait for ledger confirmation.
	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      3 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", addr,
			"env", cfg.Env,
			"content_store", cfg.ContentStore,
			"ledger", cfg.Ledger,
			"chain_id", cfg.LedgerChainID,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("server exited")
}
