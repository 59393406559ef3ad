package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/subflow/internal/app"
	"github.com/felixgeelhaar/subflow/pkg/config"
	"github.com/felixgeelhaar/subflow/pkg/observability"
)

func main() {
	logger := observability.NewLogger(observability.DefaultLogConfig())

	logger.Info("starting subflow worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logCfg := observability.DefaultLogConfig()
	if cfg.IsProduction() {
		logCfg = observability.ProductionLogConfig()
	}
	logCfg.Level = observability.LogLevel(cfg.LogLevel)
	logger = observability.NewLogger(logCfg)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	if container.OutboxProcessor != nil {
		if err := container.OutboxProcessor.Start(ctx); err != nil {
			logger.Error("failed to start outbox processor", "error", err)
			os.Exit(1)
		}

		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer cleanupTicker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-cleanupTicker.C:
					deleted, err := container.OutboxRepo.DeleteOld(ctx, cfg.OutboxRetentionDays)
					if err != nil {
						logger.Error("outbox cleanup failed", "error", err)
						continue
					}
					if deleted > 0 {
						logger.Info("outbox cleanup completed",
							"deleted", deleted,
							"retention_days", cfg.OutboxRetentionDays,
						)
					}
				}
			}
		}()
	}

	if cfg.WorkerHealthAddr != "" {
		startHealthServer(ctx, container, logger)
	}

	logger.Info("starting lifecycle worker",
		"sweep_interval", cfg.SweepInterval,
		"batch_size", cfg.SweepBatchSize,
	)

	if err := container.LifecycleWorker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("lifecycle worker stopped with error", "error", err)
	}

	logger.Info("worker stopped")
}

func startHealthServer(ctx context.Context, container *app.Container, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"status":  "ok",
			"running": container.LifecycleWorker.IsRunning(),
		}
		if container.OutboxProcessor != nil {
			stats := container.OutboxProcessor.GetStats()
			response["outbox"] = map[string]any{
				"running":           stats.IsRunning,
				"published":         stats.PublishedCount,
				"failed":            stats.FailedCount,
				"dead":              stats.DeadCount,
				"lag_seconds":       stats.LagSeconds,
				"last_processed_at": stats.LastProcessedAt,
				"last_error":        stats.LastError,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pingStorage(checkCtx, container); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ready"})
	})

	healthSrv := &http.Server{
		Addr:              container.Config.WorkerHealthAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("health server starting", "addr", healthSrv.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()
}

func pingStorage(ctx context.Context, container *app.Container) error {
	if container.DB != nil {
		return container.DB.Ping(ctx)
	}
	if container.SQLiteDB != nil {
		return container.SQLiteDB.PingContext(ctx)
	}
	return nil
}
