// Package app wires configuration into the running components shared by
// the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/support-triage/internal/ai"
	"github.com/suPer8Hu/support-triage/internal/classify"
	"github.com/suPer8Hu/support-triage/internal/config"
	"github.com/suPer8Hu/support-triage/internal/db"
	"github.com/suPer8Hu/support-triage/internal/metrics"
	"github.com/suPer8Hu/support-triage/internal/notify"
	"github.com/suPer8Hu/support-triage/internal/pipeline"
	"github.com/suPer8Hu/support-triage/internal/store/membroker"
	"github.com/suPer8Hu/support-triage/internal/store/rabbitmq"
	"github.com/suPer8Hu/support-triage/internal/store/redisstore"
	"github.com/suPer8Hu/support-triage/internal/support"
	"github.com/suPer8Hu/support-triage/internal/task"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type App struct {
	Cfg      config.Config
	Log      *zap.Logger
	DB       *gorm.DB
	Metrics  *metrics.Metrics
	Routes   task.Routes
	Queue    task.Enqueuer
	Engine   *classify.Engine
	Service  *support.Service
	Pipeline *pipeline.Pipeline

	conn      *amqp.Connection
	publisher *rabbitmq.Publisher
	broker    *membroker.Broker
	redis     *redisstore.Store
}

// NewRegistry registers every supported remote model provider.
func NewRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	// Register Ollama (default)
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY is required for AI_PROVIDER=openrouter")
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg
}

// NewEngine builds the classifier. AI_PROVIDER=none yields a fallback-only
// engine.
func NewEngine(cfg config.Config, log *zap.Logger, m *metrics.Metrics) (*classify.Engine, error) {
	var provider ai.Provider
	if cfg.AIProvider != "none" {
		p, err := NewRegistry(cfg).Get(context.Background(), cfg.AIProvider, "")
		if err != nil {
			return nil, err
		}
		provider = p
	}
	return classify.NewEngine(provider, classify.Config{
		HealthTimeout:   cfg.AIHealthTimeout,
		GenerateTimeout: cfg.AIGenerateTimeout,
		HealthCacheTTL:  cfg.AIHealthCacheTTL,
	}, log.Named("classify"), m), nil
}

// New connects to the database and the configured queue and assembles the
// pipeline. Close releases everything it opened.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{
		Cfg:     cfg,
		Log:     log,
		Metrics: metrics.Get(),
		Routes:  task.DefaultRoutes(cfg.ProcessQueue, cfg.NotifyQueue),
	}

	gdb, err := db.Connect(cfg.DBDSN, log.Named("db"))
	if err != nil {
		return nil, err
	}
	a.DB = gdb

	if err := a.openQueue(); err != nil {
		a.Close()
		return nil, err
	}

	engine, err := NewEngine(cfg, log, a.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = engine

	repo := support.NewRepo(gdb)
	a.Service = support.NewService(repo, a.Queue, log.Named("support"))

	opts := []pipeline.Option{pipeline.WithLogger(log.Named("pipeline"))}
	if cfg.NotifyLockEnabled {
		a.redis = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := a.redis.Ping(context.Background()); err != nil {
			log.Warn("redis unavailable, notification lock disabled", zap.Error(err))
			_ = a.redis.Close()
			a.redis = nil
		} else {
			opts = append(opts, pipeline.WithLocker(a.redis))
		}
	}

	dispatcher := notify.NewDispatcher(cfg.TeamsWebhookURL, cfg.PublicBaseURL, cfg.NotifyTimeout, log.Named("notify"), a.Metrics)
	if !dispatcher.Configured() {
		log.Warn("TEAMS_WEBHOOK_URL not configured, cancellation alerts will be skipped")
	}
	a.Pipeline = pipeline.New(repo, engine, dispatcher, a.Queue, opts...)
	return a, nil
}

func (a *App) openQueue() error {
	switch a.Cfg.QueueDriver {
	case "memory":
		a.broker = membroker.New(a.Routes, a.Log.Named("membroker"), a.Metrics)
		a.Queue = a.broker
		return nil
	case "rabbitmq":
		conn, err := amqp.Dial(a.Cfg.RabbitURL)
		if err != nil {
			return fmt.Errorf("rabbit dial: %w", err)
		}
		a.conn = conn
		pub, err := rabbitmq.NewPublisher(conn, a.Routes)
		if err != nil {
			return fmt.Errorf("rabbit publisher: %w", err)
		}
		a.publisher = pub
		a.Queue = pub
		return nil
	}
	return fmt.Errorf("unsupported QUEUE_DRIVER=%q", a.Cfg.QueueDriver)
}

// RunWorkers consumes both task queues, each with its own pool, and runs
// the pending-notification sweeper until ctx is done or a consumer fails.
func (a *App) RunWorkers(ctx context.Context) error {
	handlers := a.Pipeline.Handlers()
	pools := map[task.Name]int{
		task.ProcessRequest:   a.Cfg.WorkerConcurrency,
		task.SendNotification: a.Cfg.NotifyConcurrency,
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, n := range pools {
		rt, err := a.Routes.Lookup(name)
		if err != nil {
			return err
		}
		h := handlers[name]
		if a.broker != nil {
			g.Go(func() error { return a.broker.Consume(gctx, name, h, n) })
			continue
		}
		c := rabbitmq.NewConsumer(a.conn, a.publisher, rt, h, n, a.Log.Named("worker"), a.Metrics)
		g.Go(func() error { return c.Run(gctx) })
	}
	if a.Cfg.NotifySweepInterval > 0 {
		g.Go(func() error { return a.Pipeline.RunSweeper(gctx, a.Cfg.NotifySweepInterval) })
	}
	return g.Wait()
}

func (a *App) Close() {
	if a.broker != nil {
		_ = a.broker.Close()
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = a.Log.Sync()
}
