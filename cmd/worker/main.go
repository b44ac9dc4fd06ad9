package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mediabot/internal/config"
	"mediabot/internal/metrics"
	"mediabot/internal/pipeline"
	"mediabot/internal/progress"
	"mediabot/internal/queue"
	"mediabot/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"
)

func main() {
	// Initialize structured logging with JSON handler
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.LogLevel(),
	})
	slog.SetDefault(slog.New(jsonHandler))
	logger := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down gracefully", "signal", sig)
		cancel()
	}()

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

	driver, err := pipeline.NewDriverFromConfig(ctx, st, prog, m, logger)
	if err != nil {
		slog.Error("Failed to build pipeline driver", "error", err)
		os.Exit(1)
	}

	// Expose worker metrics.
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		metricsPort = "9100"
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(":"+metricsPort, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics listener failed", "error", err)
		}
	}()

	// Jobs run concurrently up to the slot cap; the driver's stage
	// semaphores bound the expensive phases further.
	slots := semaphore.NewWeighted(int64(config.DownloadSlots + config.ProcessSlots + config.UploadSlots))
	var wg sync.WaitGroup

	slog.Info("Worker started, waiting for jobs...")

	for {
		if ctx.Err() != nil {
			break
		}

		// Dequeue job (blocks until job available or timeout)
		sub, err := jobQueue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			slog.Error("Failed to dequeue job", "error", err)
			continue
		}
		if sub == nil {
			// Timeout, no job available - loop continues
			if depth, err := jobQueue.Depth(ctx); err == nil {
				m.QueueDepth.Set(float64(depth))
			}
			continue
		}

		if err := slots.Acquire(ctx, 1); err != nil {
			// Shutting down; the submission stays persisted and can be
			// re-enqueued by a retry.
			break
		}
		wg.Add(1)
		go func(jobID string) {
			defer wg.Done()
			defer slots.Release(1)

			slog.Info("Processing job", "job_id", jobID)
			if err := driver.Run(ctx, jobID); err != nil {
				slog.Error("Job processing failed", "error", err, "job_id", jobID)
			} else {
				slog.Info("Job run finished", "job_id", jobID)
			}
		}(sub.JobID)
	}

	slog.Info("Waiting for in-flight jobs to park")
	wg.Wait()
	slog.Info("Worker exited")
}
