package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Name string

const (
	ProcessRequest   Name = "process_request"
	SendNotification Name = "send_notification"
)

// Message is the JSON body carried by every queue delivery.
type Message struct {
	Task      Name   `json:"task"`
	RequestID uint64 `json:"request_id"`
}

func (m Message) Validate() error {
	if m.Task == "" {
		return errors.New("task: missing task name")
	}
	if m.RequestID == 0 {
		return errors.New("task: missing request_id")
	}
	return nil
}

func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("task: decode: %w", err)
	}
	return m, m.Validate()
}

// Handler consumes one delivery for a request id.
type Handler func(ctx context.Context, requestID uint64) error

// Enqueuer publishes a task for a request id onto the queue its route names.
type Enqueuer interface {
	Enqueue(ctx context.Context, name Name, requestID uint64) error
}

// RetryPolicy bounds redelivery. MaxAttempts counts the first delivery.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the wait before attempt+1, given that attempt just failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return backoff(attempt, p.BaseDelay, p.MaxDelay)
}

// Exhausted reports whether no further attempt is allowed after attempt.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

type Route struct {
	Name   Name
	Queue  string
	Policy RetryPolicy
}

// Routes maps each task to its queue. Processing and notifications live on
// separate queues so a notification backlog never stalls classification.
type Routes map[Name]Route

func DefaultRoutes(processQueue, notifyQueue string) Routes {
	if processQueue == "" {
		processQueue = "support_processing"
	}
	if notifyQueue == "" {
		notifyQueue = "notifications"
	}
	return Routes{
		ProcessRequest: {
			Name:   ProcessRequest,
			Queue:  processQueue,
			Policy: RetryPolicy{MaxAttempts: 3, BaseDelay: 60 * time.Second, MaxDelay: 5 * time.Minute},
		},
		SendNotification: {
			Name:   SendNotification,
			Queue:  notifyQueue,
			Policy: RetryPolicy{MaxAttempts: 3, BaseDelay: 30 * time.Second, MaxDelay: 2 * time.Minute},
		},
	}
}

func (r Routes) Lookup(name Name) (Route, error) {
	rt, ok := r[name]
	if !ok {
		return Route{}, fmt.Errorf("task: no route for %q", name)
	}
	return rt, nil
}
