package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/support-triage/internal/app"
	"github.com/suPer8Hu/support-triage/internal/config"
	"github.com/suPer8Hu/support-triage/internal/logger"
	"github.com/suPer8Hu/support-triage/internal/metrics"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.QueueDriver == "memory" {
		log.Fatalf("QUEUE_DRIVER=memory runs workers inside the api process; start cmd/api instead")
	}

	lg := logger.New(logger.Options{Level: cfg.LogLevel, FilePath: cfg.LogFilePath, Production: cfg.IsProduction()})

	a, err := app.New(cfg, lg)
	if err != nil {
		lg.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("metrics server", zap.Error(err))
		}
	}()

	lg.Info("worker started",
		zap.String("process_queue", cfg.ProcessQueue),
		zap.String("notify_queue", cfg.NotifyQueue),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("notify_concurrency", cfg.NotifyConcurrency))

	if err := a.RunWorkers(ctx); err != nil {
		lg.Error("worker stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	lg.Info("worker shutting down")
}
