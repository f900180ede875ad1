// Package membroker is an in-process task queue on a watermill gochannel
// pub/sub. It follows the RabbitMQ consumer's retry and dead-letter rules
// and is meant for single-process deployments and tests.
package membroker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/suPer8Hu/support-triage/internal/metrics"
	"github.com/suPer8Hu/support-triage/internal/task"
	"go.uber.org/zap"
)

type Broker struct {
	pubSub  *gochannel.GoChannel
	routes  task.Routes
	log     *zap.Logger
	metrics *metrics.Metrics

	// one subscription per routed queue, opened in New so tasks enqueued
	// before Consume starts are held rather than dropped
	subs   map[string]<-chan *message.Message
	cancel context.CancelFunc

	closed atomic.Bool
	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

var _ task.Enqueuer = (*Broker)(nil)

func DeadLetterTopic(queue string) string { return queue + ".dlq" }

func New(routes task.Routes, log *zap.Logger, m *metrics.Metrics) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		// not persistent: acked messages are released, not replayed
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, watermill.NopLogger{}),
		routes:  routes,
		log:     log,
		metrics: m,
		subs:    map[string]<-chan *message.Message{},
		cancel:  cancel,
		timers:  map[*time.Timer]struct{}{},
	}
	for _, rt := range routes {
		msgs, err := b.pubSub.Subscribe(ctx, rt.Queue)
		if err != nil {
			log.Error("subscribe", zap.String("queue", rt.Queue), zap.Error(err))
			continue
		}
		b.subs[rt.Queue] = msgs
	}
	return b
}

// PubSub exposes the underlying pub/sub, e.g. to watch a dead-letter topic.
func (b *Broker) PubSub() *gochannel.GoChannel { return b.pubSub }

func (b *Broker) Enqueue(ctx context.Context, name task.Name, requestID uint64) error {
	_ = ctx
	rt, err := b.routes.Lookup(name)
	if err != nil {
		return err
	}
	body, err := json.Marshal(task.Message{Task: name, RequestID: requestID})
	if err != nil {
		return err
	}
	return b.publish(rt.Queue, body, 1)
}

func (b *Broker) publish(topic string, body []byte, attempt int) error {
	msg := message.NewMessage(watermill.NewULID(), body)
	msg.Metadata.Set(task.AttemptHeader, strconv.Itoa(attempt))
	return b.pubSub.Publish(topic, msg)
}

// Consume runs handler for every message on the named task's queue with at
// most concurrency handlers in flight. It returns once ctx is done and
// running handlers have finished.
func (b *Broker) Consume(ctx context.Context, name task.Name, handler task.Handler, concurrency int) error {
	rt, err := b.routes.Lookup(name)
	if err != nil {
		return err
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	msgs, ok := b.subs[rt.Queue]
	if !ok {
		return fmt.Errorf("membroker: no subscription for %q", rt.Queue)
	}

	log := b.log.With(zap.String("queue", rt.Queue))
	log.Info("in-process consumer started", zap.Int("concurrency", concurrency))

	jobs := make(chan *message.Message)
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for msg := range jobs {
				b.handle(rt, handler, msg, log)
			}
		}()
	}

	// gochannel holds the next message until this one is acked, so ack on
	// hand-off and let the workers run in parallel. Unread messages stay
	// buffered for the next Consume.
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-msgs:
			if !ok {
				break loop
			}
			msg.Ack()
			jobs <- msg
		}
	}
	close(jobs)
	wg.Wait()
	log.Info("in-process consumer stopped")
	return nil
}

func (b *Broker) handle(rt task.Route, handler task.Handler, msg *message.Message, log *zap.Logger) {
	body := msg.Payload
	m, err := task.Decode(body)
	if err != nil || m.Task != rt.Name {
		log.Error("bad message, dead-lettering", zap.Error(err))
		b.deadLetter(rt.Queue, body, 1, "malformed")
		return
	}

	attempt := task.ParseAttempt(msg.Metadata.Get(task.AttemptHeader))
	log = log.With(
		zap.String("task", string(m.Task)),
		zap.Uint64("request_id", m.RequestID),
		zap.Int("attempt", attempt))

	start := time.Now()
	err = handler(context.Background(), m.RequestID)
	outcome := task.Decide(err, attempt, rt.Policy)
	b.metrics.Task(string(m.Task), outcome.String(), time.Since(start))

	switch outcome {
	case task.OutcomeRetry:
		delay := rt.Policy.Delay(attempt)
		log.Warn("task failed, retry scheduled", zap.Duration("delay", delay), zap.Error(err))
		b.metrics.Retry(rt.Queue)
		b.after(delay, func() {
			if perr := b.publish(rt.Queue, body, attempt+1); perr != nil {
				log.Error("republish failed", zap.Error(perr))
			}
		})

	case task.OutcomeDeadLetter:
		reason := task.DeadLetterReason(err)
		log.Error("task dead-lettered", zap.String("reason", reason), zap.Error(err))
		b.deadLetter(rt.Queue, body, attempt, reason)
	}
}

func (b *Broker) deadLetter(queue string, body []byte, attempt int, reason string) {
	b.metrics.DeadLetter(queue, reason)
	if err := b.publish(DeadLetterTopic(queue), body, attempt); err != nil {
		b.log.Error("publish to dead-letter topic failed", zap.String("queue", queue), zap.Error(err))
	}
}

func (b *Broker) after(d time.Duration, fn func()) {
	if b.closed.Load() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		b.mu.Lock()
		delete(b.timers, t)
		b.mu.Unlock()
		if !b.closed.Load() {
			fn()
		}
	})
	b.timers[t] = struct{}{}
}

// Close drops pending retries and closes the pub/sub, which ends every
// running Consume.
func (b *Broker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	for t := range b.timers {
		t.Stop()
	}
	b.timers = map[*time.Timer]struct{}{}
	b.mu.Unlock()
	b.cancel()
	return b.pubSub.Close()
}
