package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/support-triage/internal/metrics"
	"github.com/suPer8Hu/support-triage/internal/task"
	"go.uber.org/zap"
)

// delivery is the part of amqp.Delivery the consumer acts on.
type delivery interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type retrier interface {
	Retry(ctx context.Context, queue string, body []byte, attempt int, delay time.Duration) error
}

// Consumer runs a bounded worker pool over one routed queue.
type Consumer struct {
	conn        *amqp.Connection
	retry       retrier
	route       task.Route
	handler     task.Handler
	concurrency int
	log         *zap.Logger
	metrics     *metrics.Metrics
}

func NewConsumer(conn *amqp.Connection, pub *Publisher, route task.Route, handler task.Handler, concurrency int, log *zap.Logger, m *metrics.Metrics) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		conn:        conn,
		retry:       pub,
		route:       route,
		handler:     handler,
		concurrency: concurrency,
		log:         log.With(zap.String("queue", route.Queue)),
		metrics:     m,
	}
}

// Run consumes until ctx is done, then waits for in-flight deliveries.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := DeclareTopology(ch, c.route); err != nil {
		return err
	}

	//  strict concurrency control
	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return err
	}

	msgs, err := ch.Consume(c.route.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.log.Info("consumer started", zap.Int("concurrency", c.concurrency))

	// worker pool
	jobs := make(chan amqp.Delivery, c.concurrency*2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.work(jobs)
	}()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer shutting down")
			close(jobs)
			<-done
			return nil

		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				<-done
				return errors.New("rabbitmq: delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) work(jobs <-chan amqp.Delivery) {
	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func() {
			defer wg.Done()
			for d := range jobs {
				c.handle(context.Background(), d, d.Body, d.Headers[task.AttemptHeader])
			}
		}()
	}
	wg.Wait()
}

// handle runs the task handler and settles the delivery. Handlers are not
// cancelled on shutdown; they run to their own timeouts.
func (c *Consumer) handle(ctx context.Context, d delivery, body []byte, attemptHeader any) {
	msg, err := task.Decode(body)
	if err != nil || msg.Task != c.route.Name {
		c.log.Error("bad message, dead-lettering",
			zap.String("task", string(msg.Task)), zap.Error(err))
		c.metrics.DeadLetter(c.route.Queue, "malformed")
		_ = d.Nack(false, false)
		return
	}

	attempt := task.ParseAttempt(attemptHeader)
	log := c.log.With(
		zap.String("task", string(msg.Task)),
		zap.Uint64("request_id", msg.RequestID),
		zap.Int("attempt", attempt))

	start := time.Now()
	err = c.handler(ctx, msg.RequestID)
	outcome := task.Decide(err, attempt, c.route.Policy)
	c.metrics.Task(string(msg.Task), outcome.String(), time.Since(start))

	switch outcome {
	case task.OutcomeAck:
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}

	case task.OutcomeRetry:
		delay := c.route.Policy.Delay(attempt)
		if perr := c.retry.Retry(ctx, c.route.Queue, body, attempt+1, delay); perr != nil {
			// leave the attempt count as is and let the broker redeliver
			log.Error("schedule retry failed, requeueing", zap.Error(perr))
			_ = d.Nack(false, true)
			return
		}
		log.Warn("task failed, retry scheduled", zap.Duration("delay", delay), zap.Error(err))
		c.metrics.Retry(c.route.Queue)
		_ = d.Ack(false)

	case task.OutcomeDeadLetter:
		reason := task.DeadLetterReason(err)
		log.Error("task dead-lettered", zap.String("reason", reason), zap.Error(err))
		c.metrics.DeadLetter(c.route.Queue, reason)
		_ = d.Nack(false, false)
	}
}
