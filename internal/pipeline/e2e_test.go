package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/support-triage/internal/classify"
	"github.com/suPer8Hu/support-triage/internal/notify"
	"github.com/suPer8Hu/support-triage/internal/store/membroker"
	"github.com/suPer8Hu/support-triage/internal/support"
	"github.com/suPer8Hu/support-triage/internal/task"
)

func TestEndToEnd_InProcessQueue(t *testing.T) {
	db := openTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection serializes the concurrent consumers on sqlite
	sqlDB.SetMaxOpenConns(1)
	repo := support.NewRepo(db)

	routes := task.DefaultRoutes("", "")
	for name, rt := range routes {
		rt.Policy.BaseDelay = 10 * time.Millisecond
		rt.Policy.MaxDelay = 50 * time.Millisecond
		routes[name] = rt
	}
	broker := membroker.New(routes, nil, nil)
	defer broker.Close()

	notifier := &fakeNotifier{outcome: notify.Delivered}
	p := New(repo, classify.NewEngine(nil, classify.Config{}, nil, nil), notifier, broker)
	svc := support.NewService(repo, broker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for name, h := range p.Handlers() {
		go func() { _ = broker.Consume(ctx, name, h, 2) }()
	}

	cancelReq, err := svc.Submit(ctx, support.SubmitInput{
		CustomerName: "Jane Doe",
		Email:        "jane@example.com",
		Subject:      "Please cancel my account",
		Description:  "I want a refund",
	})
	require.NoError(t, err)
	inquiry, err := svc.Submit(ctx, support.SubmitInput{
		CustomerName: "Lisa Brown",
		Email:        "lisa@example.com",
		Subject:      "How do I upgrade?",
		Description:  "curious about plans",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := repo.Get(ctx, cancelReq.ID)
		return err == nil && got.NotificationSent
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := repo.Get(ctx, inquiry.ID)
		return err == nil && got.ProcessingStatus == support.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	got, err := repo.Get(ctx, cancelReq.ID)
	require.NoError(t, err)
	assert.Equal(t, support.StatusCompleted, got.ProcessingStatus)
	assert.Equal(t, support.CategoryCancellationRequest, *got.Category)

	got, err = repo.Get(ctx, inquiry.ID)
	require.NoError(t, err)
	assert.Equal(t, support.CategoryGeneralInquiry, *got.Category)
	assert.False(t, got.NotificationSent)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, 1, notifier.calls)
}
