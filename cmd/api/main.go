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

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/support-triage/internal/app"
	"github.com/suPer8Hu/support-triage/internal/config"
	"github.com/suPer8Hu/support-triage/internal/httpapi"
	"github.com/suPer8Hu/support-triage/internal/httpapi/handlers"
	"github.com/suPer8Hu/support-triage/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg := logger.New(logger.Options{Level: cfg.LogLevel, FilePath: cfg.LogFilePath, Production: cfg.IsProduction()})
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.New(cfg, lg)
	if err != nil {
		lg.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	if cfg.QueueDriver == "memory" {
		// no external broker: run the workers in this process
		go func() {
			defer close(workersDone)
			if err := a.RunWorkers(ctx); err != nil {
				lg.Error("embedded workers stopped", zap.Error(err))
			}
		}()
	} else {
		close(workersDone)
	}

	h := handlers.NewHandler(a.Service, a.Engine, lg.Named("http"))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, lg.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lg.Info("api listening", zap.String("addr", cfg.HTTPAddr), zap.String("queue_driver", cfg.QueueDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("http shutdown", zap.Error(err))
	}
	<-workersDone
}
