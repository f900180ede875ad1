package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/support-triage/internal/support"
)

func cancellationRequest() *support.Request {
	cat := support.CategoryCancellationRequest
	return &support.Request{
		ID:           42,
		CustomerName: "Jane Doe",
		Email:        "jane@example.com",
		Subject:      "Please cancel my account",
		Description:  "I want a refund",
		Category:     &cat,
		CreatedAt:    time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
}

func TestNotify_SkipsWhenUnconfigured(t *testing.T) {
	for _, url := range []string{"", "  ", PlaceholderWebhook} {
		d := NewDispatcher(url, "http://localhost:8000", 0, nil, nil)
		got := d.Notify(context.Background(), cancellationRequest())
		assert.Equal(t, Skipped, got.Outcome, "url=%q", url)
		assert.Empty(t, got.ID)
	}
}

func TestNotify_Delivered(t *testing.T) {
	var card map[string]any
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(b, &card))
		_, _ = w.Write([]byte("1"))
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, "http://localhost:8000/", time.Second, nil, nil)
	got := d.Notify(context.Background(), cancellationRequest())

	require.Equal(t, Delivered, got.Outcome)
	assert.True(t, strings.HasPrefix(got.ID, "teams_notification_42_"), got.ID)
	assert.Equal(t, int32(1), calls.Load())

	assert.Equal(t, "MessageCard", card["@type"])
	assert.Equal(t, "FF6B35", card["themeColor"])

	section := card["sections"].([]any)[0].(map[string]any)
	assert.Equal(t, "Request ID: 42", section["activitySubtitle"])
	facts := map[string]string{}
	for _, f := range section["facts"].([]any) {
		m := f.(map[string]any)
		facts[m["name"].(string)] = m["value"].(string)
	}
	assert.Equal(t, "Jane Doe", facts["Customer"])
	assert.Equal(t, "jane@example.com", facts["Email"])
	assert.Equal(t, "cancellation_request", facts["Category"])
	assert.Equal(t, "2026-03-04 05:06:07 UTC", facts["Created"])

	action := card["potentialAction"].([]any)[0].(map[string]any)
	target := action["targets"].([]any)[0].(map[string]any)
	assert.Equal(t, "http://localhost:8000/admin/requests/42", target["uri"])
}

func TestNotify_FailedOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad payload"))
	}))
	defer srv.Close()

	got := NewDispatcher(srv.URL, "", time.Second, nil, nil).Notify(context.Background(), cancellationRequest())
	assert.Equal(t, Failed, got.Outcome)
	assert.Empty(t, got.ID)
	assert.Contains(t, got.Reason, "400")
}

func TestNotify_FailedOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	got := NewDispatcher(url, "", time.Second, nil, nil).Notify(context.Background(), cancellationRequest())
	assert.Equal(t, Failed, got.Outcome)
	assert.NotEmpty(t, got.Reason)
}

func TestCard_UnclassifiedAndExcerpt(t *testing.T) {
	req := cancellationRequest()
	req.Category = nil
	req.Description = strings.Repeat("x", 600)

	c := NewDispatcher("http://hook", "http://base", 0, nil, nil).card(req)
	facts := c.Sections[0].Facts
	assert.Equal(t, "Not classified", facts[3].Value)

	text := strings.TrimPrefix(c.Sections[0].Text, "**Description:**\n\n")
	assert.Equal(t, strings.Repeat("x", 500)+"...", text)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt("short", 500))
	assert.Equal(t, "ab...", excerpt("abc", 2))
}
