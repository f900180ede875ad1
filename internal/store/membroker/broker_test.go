package membroker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/support-triage/internal/task"
)

func fastRoutes() task.Routes {
	routes := task.DefaultRoutes("proc", "notify")
	for name, rt := range routes {
		rt.Policy.BaseDelay = 5 * time.Millisecond
		rt.Policy.MaxDelay = 20 * time.Millisecond
		routes[name] = rt
	}
	return routes
}

func startConsumer(t *testing.T, b *Broker, name task.Name, h task.Handler, n int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, b.Consume(ctx, name, h, n))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestBroker_Delivers(t *testing.T) {
	b := New(fastRoutes(), nil, nil)
	defer b.Close()

	got := make(chan uint64, 1)
	startConsumer(t, b, task.ProcessRequest, func(ctx context.Context, id uint64) error {
		got <- id
		return nil
	}, 2)

	require.NoError(t, b.Enqueue(context.Background(), task.ProcessRequest, 11))

	select {
	case id := <-got:
		assert.Equal(t, uint64(11), id)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBroker_EnqueueBeforeConsume(t *testing.T) {
	b := New(fastRoutes(), nil, nil)
	defer b.Close()

	require.NoError(t, b.Enqueue(context.Background(), task.SendNotification, 5))

	got := make(chan uint64, 1)
	startConsumer(t, b, task.SendNotification, func(ctx context.Context, id uint64) error {
		got <- id
		return nil
	}, 1)

	select {
	case id := <-got:
		assert.Equal(t, uint64(5), id)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBroker_RetriesThenSucceeds(t *testing.T) {
	b := New(fastRoutes(), nil, nil)
	defer b.Close()

	var calls atomic.Int32
	done := make(chan struct{})
	startConsumer(t, b, task.ProcessRequest, func(ctx context.Context, id uint64) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, 1)

	require.NoError(t, b.Enqueue(context.Background(), task.ProcessRequest, 1))

	select {
	case <-done:
		assert.Equal(t, int32(3), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatalf("handler called %d times, want 3", calls.Load())
	}
}

func subscribeDLQ(t *testing.T, b *Broker, queue string) <-chan task.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	msgs, err := b.PubSub().Subscribe(ctx, DeadLetterTopic(queue))
	require.NoError(t, err)

	out := make(chan task.Message, 8)
	go func() {
		for msg := range msgs {
			msg.Ack()
			m, err := task.Decode(msg.Payload)
			if err == nil {
				out <- m
			}
		}
	}()
	return out
}

func TestBroker_ExhaustedGoesToDLQ(t *testing.T) {
	b := New(fastRoutes(), nil, nil)
	defer b.Close()

	var calls atomic.Int32
	startConsumer(t, b, task.ProcessRequest, func(ctx context.Context, id uint64) error {
		calls.Add(1)
		return errors.New("always fails")
	}, 1)
	dlq := subscribeDLQ(t, b, "proc")

	require.NoError(t, b.Enqueue(context.Background(), task.ProcessRequest, 9))

	select {
	case m := <-dlq:
		assert.Equal(t, uint64(9), m.RequestID)
		assert.Equal(t, int32(3), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("message never dead-lettered")
	}
}

func TestBroker_PermanentSkipsRetry(t *testing.T) {
	b := New(fastRoutes(), nil, nil)
	defer b.Close()

	var calls atomic.Int32
	startConsumer(t, b, task.SendNotification, func(ctx context.Context, id uint64) error {
		calls.Add(1)
		return task.Permanent(errors.New("missing"))
	}, 1)
	dlq := subscribeDLQ(t, b, "notify")

	require.NoError(t, b.Enqueue(context.Background(), task.SendNotification, 3))

	select {
	case m := <-dlq:
		assert.Equal(t, uint64(3), m.RequestID)
		assert.Equal(t, int32(1), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("message never dead-lettered")
	}
}

func TestBroker_Concurrency(t *testing.T) {
	b := New(fastRoutes(), nil, nil)
	defer b.Close()

	var (
		mu      sync.Mutex
		running int
		peak    int
		wg      sync.WaitGroup
	)
	wg.Add(4)
	startConsumer(t, b, task.ProcessRequest, func(ctx context.Context, id uint64) error {
		defer wg.Done()
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}, 2)

	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, b.Enqueue(context.Background(), task.ProcessRequest, i))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, 2)
	assert.GreaterOrEqual(t, peak, 1)
}

func TestBroker_UnknownTask(t *testing.T) {
	b := New(fastRoutes(), nil, nil)
	defer b.Close()
	assert.Error(t, b.Enqueue(context.Background(), task.Name("nope"), 1))
	assert.Error(t, b.Consume(context.Background(), task.Name("nope"), nil, 1))
}

func TestBroker_HandledMessagesAreReleased(t *testing.T) {
	b := New(fastRoutes(), nil, nil)
	defer b.Close()

	const n = 50
	var handled sync.WaitGroup
	handled.Add(n)
	startConsumer(t, b, task.ProcessRequest, func(ctx context.Context, id uint64) error {
		handled.Done()
		return nil
	}, 2)

	for i := uint64(1); i <= n; i++ {
		require.NoError(t, b.Enqueue(context.Background(), task.ProcessRequest, i))
	}
	handled.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := b.PubSub().Subscribe(ctx, "proc")
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		t.Fatalf("handled message replayed: %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroker_ConsumeResumesAfterStop(t *testing.T) {
	b := New(fastRoutes(), nil, nil)
	defer b.Close()

	first := make(chan uint64, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, b.Consume(ctx, task.ProcessRequest, func(ctx context.Context, id uint64) error {
			first <- id
			return nil
		}, 1))
	}()
	require.NoError(t, b.Enqueue(context.Background(), task.ProcessRequest, 1))
	select {
	case id := <-first:
		assert.Equal(t, uint64(1), id)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	cancel()
	<-done

	require.NoError(t, b.Enqueue(context.Background(), task.ProcessRequest, 2))

	got := make(chan uint64, 2)
	startConsumer(t, b, task.ProcessRequest, func(ctx context.Context, id uint64) error {
		got <- id
		return nil
	}, 1)

	select {
	case id := <-got:
		assert.Equal(t, uint64(2), id)
	case <-time.After(2 * time.Second):
		t.Fatal("message enqueued between consumers not delivered")
	}
	select {
	case id := <-got:
		t.Fatalf("unexpected redelivery of %d", id)
	case <-time.After(100 * time.Millisecond):
	}
}
