package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/support-triage/internal/task"
	"go.uber.org/zap"
)

type fakeDelivery struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (d *fakeDelivery) Ack(multiple bool) error {
	_ = multiple
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(multiple, requeue bool) error {
	_ = multiple
	d.nacked = true
	d.requeue = requeue
	return nil
}

type retryCall struct {
	queue   string
	body    []byte
	attempt int
	delay   time.Duration
}

type fakeRetrier struct {
	calls []retryCall
	err   error
}

func (r *fakeRetrier) Retry(ctx context.Context, queue string, body []byte, attempt int, delay time.Duration) error {
	_ = ctx
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, retryCall{queue, body, attempt, delay})
	return nil
}

func newTestConsumer(h task.Handler, r retrier) *Consumer {
	routes := task.DefaultRoutes("", "")
	return &Consumer{
		retry:       r,
		route:       routes[task.ProcessRequest],
		handler:     h,
		concurrency: 1,
		log:         zap.NewNop(),
	}
}

var processBody = []byte(`{"task":"process_request","request_id":7}`)

func TestHandle_SuccessAcks(t *testing.T) {
	var got uint64
	c := newTestConsumer(func(ctx context.Context, id uint64) error {
		got = id
		return nil
	}, &fakeRetrier{})

	d := &fakeDelivery{}
	c.handle(context.Background(), d, processBody, int32(1))

	assert.Equal(t, uint64(7), got)
	assert.True(t, d.acked)
	assert.False(t, d.nacked)
}

func TestHandle_FailureSchedulesRetry(t *testing.T) {
	r := &fakeRetrier{}
	c := newTestConsumer(func(context.Context, uint64) error { return errors.New("db down") }, r)

	d := &fakeDelivery{}
	c.handle(context.Background(), d, processBody, int32(2))

	require.Len(t, r.calls, 1)
	assert.Equal(t, "support_processing", r.calls[0].queue)
	assert.Equal(t, 3, r.calls[0].attempt)
	assert.Equal(t, 120*time.Second, r.calls[0].delay)
	assert.Equal(t, processBody, r.calls[0].body)
	assert.True(t, d.acked)
}

func TestHandle_MissingHeaderIsFirstAttempt(t *testing.T) {
	r := &fakeRetrier{}
	c := newTestConsumer(func(context.Context, uint64) error { return errors.New("boom") }, r)

	c.handle(context.Background(), &fakeDelivery{}, processBody, nil)

	require.Len(t, r.calls, 1)
	assert.Equal(t, 2, r.calls[0].attempt)
	assert.Equal(t, 60*time.Second, r.calls[0].delay)
}

func TestHandle_ExhaustedDeadLetters(t *testing.T) {
	r := &fakeRetrier{}
	c := newTestConsumer(func(context.Context, uint64) error { return errors.New("db down") }, r)

	d := &fakeDelivery{}
	c.handle(context.Background(), d, processBody, int32(3))

	assert.Empty(t, r.calls)
	assert.True(t, d.nacked)
	assert.False(t, d.requeue)
}

func TestHandle_PermanentDeadLetters(t *testing.T) {
	r := &fakeRetrier{}
	c := newTestConsumer(func(context.Context, uint64) error {
		return task.Permanent(errors.New("not found"))
	}, r)

	d := &fakeDelivery{}
	c.handle(context.Background(), d, processBody, int32(1))

	assert.Empty(t, r.calls)
	assert.True(t, d.nacked)
	assert.False(t, d.requeue)
}

func TestHandle_RetryPublishFailureRequeues(t *testing.T) {
	c := newTestConsumer(func(context.Context, uint64) error { return errors.New("boom") },
		&fakeRetrier{err: errors.New("channel closed")})

	d := &fakeDelivery{}
	c.handle(context.Background(), d, processBody, int32(1))

	assert.True(t, d.nacked)
	assert.True(t, d.requeue)
	assert.False(t, d.acked)
}

func TestHandle_MalformedDeadLetters(t *testing.T) {
	called := false
	c := newTestConsumer(func(context.Context, uint64) error {
		called = true
		return nil
	}, &fakeRetrier{})

	for _, body := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"task":"process_request"}`),
		[]byte(`{"task":"send_notification","request_id":7}`),
	} {
		d := &fakeDelivery{}
		c.handle(context.Background(), d, body, nil)
		assert.True(t, d.nacked, string(body))
		assert.False(t, d.requeue, string(body))
	}
	assert.False(t, called)
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "notifications.retry.30s", RetryQueue("notifications", 30*time.Second))
	assert.Equal(t, "notifications.retry.1500ms", RetryQueue("notifications", 1500*time.Millisecond))
	assert.Equal(t, "notifications.dlq", DeadLetterQueue("notifications"))
}

func TestRetryDelays(t *testing.T) {
	routes := task.DefaultRoutes("proc", "notify")

	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second},
		RetryDelays(routes[task.ProcessRequest].Policy))
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second},
		RetryDelays(routes[task.SendNotification].Policy))

	// capped steps collapse into one queue
	capped := task.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Minute, MaxDelay: 2 * time.Minute}
	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute}, RetryDelays(capped))

	assert.Empty(t, RetryDelays(task.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Second}))
}

func TestRetryQueueArgs(t *testing.T) {
	args := retryQueueArgs("proc", 60*time.Second)
	assert.Equal(t, int64(60000), args["x-message-ttl"])
	assert.Equal(t, "", args["x-dead-letter-exchange"])
	assert.Equal(t, "proc", args["x-dead-letter-routing-key"])

	// every attempt the consumer schedules lands on a declared step
	rt := task.DefaultRoutes("proc", "notify")[task.ProcessRequest]
	steps := map[string]bool{}
	for _, d := range RetryDelays(rt.Policy) {
		steps[RetryQueue(rt.Queue, d)] = true
	}
	for attempt := 1; attempt < rt.Policy.MaxAttempts; attempt++ {
		assert.True(t, steps[RetryQueue(rt.Queue, rt.Policy.Delay(attempt))], "attempt %d", attempt)
	}
}

func TestNewPublishing(t *testing.T) {
	p := newPublishing([]byte(`{}`), 2)
	assert.Equal(t, int32(2), p.Headers[task.AttemptHeader])
	assert.Equal(t, "application/json", p.ContentType)
	assert.NotEmpty(t, p.MessageId)
}
