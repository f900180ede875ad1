package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/suPer8Hu/support-triage/internal/ai"
	"github.com/suPer8Hu/support-triage/internal/metrics"
	"go.uber.org/zap"
)

type Config struct {
	HealthTimeout   time.Duration
	GenerateTimeout time.Duration
	// HealthCacheTTL reuses a probe result for this long; 0 probes on every
	// call.
	HealthCacheTTL time.Duration
	Strategies     []ParseStrategy
}

func (c Config) withDefaults() Config {
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 10 * time.Second
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 60 * time.Second
	}
	if len(c.Strategies) == 0 {
		c.Strategies = DefaultStrategies
	}
	return c
}

var generateOptions = ai.GenerateOptions{
	Temperature: 0.1,
	TopP:        0.9,
	MaxTokens:   200,
}

type Engine struct {
	provider ai.Provider
	cfg      Config
	log      *zap.Logger
	metrics  *metrics.Metrics
	health   *cache.Cache
	now      func() time.Time
}

// NewEngine builds an engine around provider. A nil provider makes every
// call take the fallback path.
func NewEngine(provider ai.Provider, cfg Config, log *zap.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		provider: provider,
		cfg:      cfg.withDefaults(),
		log:      log,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if cfg.HealthCacheTTL > 0 {
		e.health = cache.New(cfg.HealthCacheTTL, 2*cfg.HealthCacheTTL)
	}
	return e
}

// Provider returns the configured remote provider, or nil.
func (e *Engine) Provider() ai.Provider { return e.provider }

type healthEntry struct {
	err error
}

// Healthy probes the remote model with the health timeout.
func (e *Engine) Healthy(ctx context.Context) error {
	if e.provider == nil {
		return errors.New("remote provider not configured")
	}
	key := e.provider.Name() + ":" + e.provider.Model()
	if e.health != nil {
		if v, ok := e.health.Get(key); ok {
			return v.(healthEntry).err
		}
	}

	hctx, cancel := context.WithTimeout(ctx, e.cfg.HealthTimeout)
	defer cancel()
	err := e.provider.Health(hctx)

	if e.health != nil {
		e.health.Set(key, healthEntry{err: err}, cache.DefaultExpiration)
	}
	return err
}

// Classify never returns an error: network failures, timeouts and non-200
// answers all route to the keyword fallback.
func (e *Engine) Classify(ctx context.Context, subject, description string) Result {
	// in-flight calls run to completion or timeout, never to caller cancel
	ctx = context.WithoutCancel(ctx)

	if err := e.Healthy(ctx); err != nil {
		return e.fallback(subject, description, fmt.Sprintf("health probe failed: %v", err))
	}

	gctx, cancel := context.WithTimeout(ctx, e.cfg.GenerateTimeout)
	defer cancel()

	text, err := e.provider.Generate(gctx, BuildPrompt(subject, description), generateOptions)
	if err != nil {
		reason := fmt.Sprintf("generate failed: %v", err)
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("generate timed out after %s", e.cfg.GenerateTimeout)
		}
		return e.fallback(subject, description, reason)
	}

	cand, strategy, ok := ParseResponse(text, e.cfg.Strategies)
	if !ok {
		e.log.Warn("could not parse model response",
			zap.String("model", e.provider.Model()), zap.String("response", text))
		cand = parseFailure
	}

	res := Sanitize(cand, e.provider.Model(), e.now())
	res.NeedsReview = !ok
	e.log.Debug("remote classification",
		zap.String("category", string(res.Category)),
		zap.String("strategy", strategy),
		zap.Float64("confidence", res.Confidence))
	e.metrics.Classification(string(res.Method), false)
	return res
}

func (e *Engine) fallback(subject, description, reason string) Result {
	e.log.Warn("using fallback classification", zap.String("reason", reason))
	res := Fallback(subject, description, e.now())
	res.Degraded = reason
	e.metrics.Classification(string(res.Method), true)
	return res
}
