package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/support-triage/internal/task"
)

const publishTimeout = 5 * time.Second

// Publisher enqueues task messages. It is safe for concurrent use.
type Publisher struct {
	ch     *amqp.Channel
	mu     sync.Mutex
	routes task.Routes

	// retry queues declared on this channel
	declared map[string]bool
}

var _ task.Enqueuer = (*Publisher)(nil)

// RetryQueue names the parking queue for one delay step of queue, e.g.
// support_processing.retry.60s.
func RetryQueue(queue string, delay time.Duration) string {
	if delay%time.Second == 0 {
		return fmt.Sprintf("%s.retry.%ds", queue, delay/time.Second)
	}
	return fmt.Sprintf("%s.retry.%dms", queue, delay.Milliseconds())
}

func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// RetryDelays lists the distinct delays a policy can schedule, one per
// retry queue.
func RetryDelays(p task.RetryPolicy) []time.Duration {
	var out []time.Duration
	seen := map[time.Duration]bool{}
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		d := p.Delay(attempt)
		if d <= 0 || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// retryQueueArgs holds messages for delay, then dead-letters them back to
// queue. The TTL is per queue so every message in it expires in order.
func retryQueueArgs(queue string, delay time.Duration) amqp.Table {
	return amqp.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}
}

func declareRetryQueue(ch *amqp.Channel, queue string, delay time.Duration) error {
	name := RetryQueue(queue, delay)
	if _, err := ch.QueueDeclare(name, true, false, false, false, retryQueueArgs(queue, delay)); err != nil {
		return fmt.Errorf("declare %s: %w", name, err)
	}
	return nil
}

// DeclareTopology declares the routed queue with one retry queue per delay
// step and a dead-letter queue. Consumers and publishers both call it;
// declarations are idempotent.
func DeclareTopology(ch *amqp.Channel, rt task.Route) error {
	queue := rt.Queue

	// DLQ
	if _, err := ch.QueueDeclare(
		DeadLetterQueue(queue),
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare %s: %w", DeadLetterQueue(queue), err)
	}

	for _, d := range RetryDelays(rt.Policy) {
		if err := declareRetryQueue(ch, queue, d); err != nil {
			return err
		}
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DeadLetterQueue(queue),
		},
	); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	return nil
}

// NewPublisher opens a channel on conn and declares every routed queue.
func NewPublisher(conn *amqp.Connection, routes task.Routes) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	declared := map[string]bool{}
	for _, rt := range routes {
		if err := DeclareTopology(ch, rt); err != nil {
			_ = ch.Close()
			return nil, err
		}
		for _, d := range RetryDelays(rt.Policy) {
			declared[RetryQueue(rt.Queue, d)] = true
		}
	}
	return &Publisher{ch: ch, routes: routes, declared: declared}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}

// Enqueue publishes the first attempt of a task onto its routed queue.
func (p *Publisher) Enqueue(ctx context.Context, name task.Name, requestID uint64) error {
	rt, err := p.routes.Lookup(name)
	if err != nil {
		return err
	}
	body, err := json.Marshal(task.Message{Task: name, RequestID: requestID})
	if err != nil {
		return err
	}
	return p.publish(ctx, rt.Queue, newPublishing(body, 1))
}

// Retry parks body on the retry queue for delay, after which the broker
// routes it back to queue as the given attempt. A delay outside the declared
// steps gets its own retry queue on first use.
func (p *Publisher) Retry(ctx context.Context, queue string, body []byte, attempt int, delay time.Duration) error {
	name := RetryQueue(queue, delay)
	p.mu.Lock()
	if !p.declared[name] {
		if err := declareRetryQueue(p.ch, queue, delay); err != nil {
			p.mu.Unlock()
			return err
		}
		p.declared[name] = true
	}
	p.mu.Unlock()
	return p.publish(ctx, name, newPublishing(body, attempt))
}

func newPublishing(body []byte, attempt int) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ulid.Make().String(),
		Headers:      amqp.Table{task.AttemptHeader: int32(attempt)},
		Body:         body,
		Timestamp:    time.Now(),
	}
}

func (p *Publisher) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		msg,
	)
}
