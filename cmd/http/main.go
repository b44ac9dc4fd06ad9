package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediabot/internal/config"
	"mediabot/internal/endpoints"
	"mediabot/internal/metrics"
	"mediabot/internal/pipeline"
	"mediabot/internal/progress"
	"mediabot/internal/queue"
	"mediabot/internal/server"
	"mediabot/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Initialize structured logging
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.LogLevel(),
	})
	slog.SetDefault(slog.New(jsonHandler))
	logger := slog.Default()

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, config.DatabaseURL, logger)
	if err != nil {
		slog.Error("Failed to open job repository", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	jobQueue, err := queue.NewQueue(ctx)
	if err != nil {
		slog.Error("Failed to connect to submission queue", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	prog, err := progress.NewStore(ctx)
	if err != nil {
		slog.Error("Failed to connect to progress store", "error", err)
		os.Exit(1)
	}
	defer prog.Close()

	registry := prometheus.NewRegistry()
	m := metrics.NewPipeline()
	if err := m.Register(registry); err != nil {
		slog.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	// The API process holds a driver for retry, cancel and readiness; jobs
	// themselves run in the worker.
	driver, err := pipeline.NewDriverFromConfig(ctx, st, prog, m, logger)
	if err != nil {
		slog.Error("Failed to build pipeline driver", "error", err)
		os.Exit(1)
	}

	srv := server.NewServer(port, endpoints.Deps{
		Store:    st,
		Queue:    jobQueue,
		Pipeline: driver,
		Progress: prog,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed to start", "error", err)
			cancel()
		}
	}()

	slog.Info("media-bot API started", "port", port)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	} else {
		slog.Info("Server exited gracefully")
	}
}
