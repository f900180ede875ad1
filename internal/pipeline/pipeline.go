// Package pipeline holds the task handlers that drive a support request
// from pending to a terminal state and deliver cancellation alerts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/support-triage/internal/classify"
	"github.com/suPer8Hu/support-triage/internal/notify"
	"github.com/suPer8Hu/support-triage/internal/support"
	"github.com/suPer8Hu/support-triage/internal/task"
	"go.uber.org/zap"
)

type Store interface {
	Get(ctx context.Context, id uint64) (*support.Request, error)
	MarkProcessing(ctx context.Context, id uint64) (bool, error)
	MarkCompleted(ctx context.Context, id uint64, c support.Classification) (bool, error)
	MarkFailed(ctx context.Context, id uint64) error
	MarkNotificationSent(ctx context.Context, id uint64) (bool, error)
	MarkNotificationPending(ctx context.Context, id uint64) error
	ClearNotificationPending(ctx context.Context, id uint64) error
	PendingNotifications(ctx context.Context, limit int) ([]uint64, error)
}

type Classifier interface {
	Classify(ctx context.Context, subject, description string) classify.Result
}

type Notifier interface {
	Notify(ctx context.Context, req *support.Request) notify.Delivery
}

// Locker is an optional cross-worker mutex keyed by string.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

const (
	notifyLockTTL  = 2 * time.Minute
	sweepBatchSize = 100
)

type Pipeline struct {
	store      Store
	classifier Classifier
	notifier   Notifier
	queue      task.Enqueuer
	locker     Locker
	log        *zap.Logger
}

type Option func(*Pipeline)

// WithLocker guards notification dispatch with l.
func WithLocker(l Locker) Option {
	return func(p *Pipeline) { p.locker = l }
}

func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

func New(store Store, classifier Classifier, notifier Notifier, queue task.Enqueuer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      store,
		classifier: classifier,
		notifier:   notifier,
		queue:      queue,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handlers returns the task handlers keyed by task name, ready to hand to a
// consumer.
func (p *Pipeline) Handlers() map[task.Name]task.Handler {
	return map[task.Name]task.Handler{
		task.ProcessRequest:   p.HandleProcess,
		task.SendNotification: p.HandleNotification,
	}
}

func (p *Pipeline) load(ctx context.Context, id uint64) (*support.Request, error) {
	req, err := p.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, support.ErrNotFound) {
			return nil, task.Permanent(err)
		}
		return nil, fmt.Errorf("load request %d: %w", id, err)
	}
	return req, nil
}

// HandleProcess classifies a request and, for cancellations, queues the
// notification task. Redelivery of a completed request is a no-op.
func (p *Pipeline) HandleProcess(ctx context.Context, id uint64) error {
	log := p.log.With(zap.Uint64("request_id", id), zap.String("task", string(task.ProcessRequest)))

	req, err := p.load(ctx, id)
	if err != nil {
		return err
	}
	if req.ProcessingStatus == support.StatusCompleted {
		log.Info("request already completed, skipping")
		return nil
	}

	if err := p.process(ctx, req, log); err != nil {
		if ferr := p.store.MarkFailed(ctx, id); ferr != nil {
			log.Error("mark failed", zap.Error(ferr))
		}
		log.Error("processing failed", zap.Error(err))
		return err
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, req *support.Request, log *zap.Logger) error {
	ok, err := p.store.MarkProcessing(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if !ok {
		log.Info("request completed concurrently, skipping")
		return nil
	}

	res := p.classifier.Classify(ctx, req.Subject, req.Description)
	if res.IsDegraded() {
		log.Warn("classified with fallback", zap.String("reason", res.Degraded))
	}

	ok, err = p.store.MarkCompleted(ctx, req.ID, res.Classification())
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !ok {
		log.Info("request completed concurrently, skipping")
		return nil
	}
	log.Info("request classified",
		zap.String("category", string(res.Category)),
		zap.String("method", string(res.Method)),
		zap.Float64("confidence", res.Confidence))

	if res.Category != support.CategoryCancellationRequest {
		return nil
	}
	if err := p.queue.Enqueue(ctx, task.SendNotification, req.ID); err != nil {
		// A redelivery would stop at the completed guard, so leave the
		// enqueue to the sweeper and ack.
		log.Error("enqueue notification failed, marked pending", zap.Error(err))
		if perr := p.store.MarkNotificationPending(ctx, req.ID); perr != nil {
			log.Error("mark notification pending", zap.Error(perr))
		}
		return nil
	}
	log.Info("notification queued")
	return nil
}

// SweepNotifications queues the notification task for every request marked
// pending and reports how many were queued. It stops at the first enqueue
// error.
func (p *Pipeline) SweepNotifications(ctx context.Context) (int, error) {
	ids, err := p.store.PendingNotifications(ctx, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}
	n := 0
	for _, id := range ids {
		if err := p.queue.Enqueue(ctx, task.SendNotification, id); err != nil {
			return n, fmt.Errorf("enqueue notification %d: %w", id, err)
		}
		if err := p.store.ClearNotificationPending(ctx, id); err != nil {
			p.log.Warn("clear notification pending", zap.Uint64("request_id", id), zap.Error(err))
		}
		n++
	}
	return n, nil
}

// RunSweeper calls SweepNotifications every interval until ctx is done.
func (p *Pipeline) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.SweepNotifications(ctx)
			if err != nil {
				p.log.Warn("notification sweep", zap.Int("queued", n), zap.Error(err))
				continue
			}
			if n > 0 {
				p.log.Info("pending notifications queued", zap.Int("queued", n))
			}
		}
	}
}

// HandleNotification delivers the cancellation alert at most once per
// confirmed delivery. A skipped dispatch leaves notification_sent false.
func (p *Pipeline) HandleNotification(ctx context.Context, id uint64) error {
	log := p.log.With(zap.Uint64("request_id", id), zap.String("task", string(task.SendNotification)))

	req, err := p.load(ctx, id)
	if err != nil {
		return err
	}
	if req.NotificationSent {
		log.Info("notification already sent")
		return nil
	}
	if req.CategoryOrEmpty() != support.CategoryCancellationRequest {
		log.Info("not a cancellation request, nothing to send",
			zap.String("category", string(req.CategoryOrEmpty())))
		return nil
	}

	if p.locker != nil {
		key := fmt.Sprintf("support:notify:%d", id)
		held, err := p.locker.Acquire(ctx, key, notifyLockTTL)
		switch {
		case err != nil:
			log.Warn("notification lock unavailable, continuing", zap.Error(err))
		case !held:
			log.Info("notification in progress on another worker")
			return nil
		default:
			defer func() {
				if err := p.locker.Release(context.WithoutCancel(ctx), key); err != nil {
					log.Warn("release notification lock", zap.Error(err))
				}
			}()
		}
	}

	d := p.notifier.Notify(ctx, req)
	switch d.Outcome {
	case notify.Skipped:
		log.Info("notification skipped", zap.String("reason", d.Reason))
		return nil
	case notify.Failed:
		return fmt.Errorf("notify request %d: %s", id, d.Reason)
	}

	marked, err := p.store.MarkNotificationSent(ctx, id)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if !marked {
		log.Warn("notification flag already set by another worker", zap.String("delivery_id", d.ID))
		return nil
	}
	log.Info("notification delivered", zap.String("delivery_id", d.ID))
	return nil
}
