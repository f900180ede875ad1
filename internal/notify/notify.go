package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/suPer8Hu/support-triage/internal/metrics"
	"github.com/suPer8Hu/support-triage/internal/support"
	"go.uber.org/zap"
)

// PlaceholderWebhook is the sample value shipped in .env.example. It is
// treated as unconfigured.
const PlaceholderWebhook = "https://your-teams-webhook-url-here"

const (
	excerptRunes = 500
	themeColor   = "FF6B35"
	timeLayout   = "2006-01-02 15:04:05 UTC"
)

type Outcome string

const (
	Delivered Outcome = "delivered"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
)

// Delivery reports what happened to one notification. ID is set only when
// Outcome is Delivered.
type Delivery struct {
	Outcome Outcome
	ID      string
	Reason  string
}

type Dispatcher struct {
	webhookURL    string
	publicBaseURL string
	client        *http.Client
	log           *zap.Logger
	metrics       *metrics.Metrics
}

func NewDispatcher(webhookURL, publicBaseURL string, timeout time.Duration, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		webhookURL:    strings.TrimSpace(webhookURL),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		client:        &http.Client{Timeout: timeout},
		log:           log,
		metrics:       m,
	}
}

// Configured reports whether a real webhook destination is set.
func (d *Dispatcher) Configured() bool {
	return d.webhookURL != "" && d.webhookURL != PlaceholderWebhook
}

// Notify posts a cancellation alert for req. It never returns an error;
// the caller decides what to do with a Failed delivery.
func (d *Dispatcher) Notify(ctx context.Context, req *support.Request) Delivery {
	if !d.Configured() {
		d.log.Info("teams webhook not configured, skipping notification",
			zap.Uint64("request_id", req.ID))
		return d.record(Delivery{Outcome: Skipped, Reason: "webhook not configured"})
	}

	body, err := json.Marshal(d.card(req))
	if err != nil {
		return d.record(Delivery{Outcome: Failed, Reason: fmt.Sprintf("encode card: %v", err)})
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return d.record(Delivery{Outcome: Failed, Reason: err.Error()})
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		d.log.Warn("teams notification failed", zap.Uint64("request_id", req.ID), zap.Error(err))
		return d.record(Delivery{Outcome: Failed, Reason: err.Error()})
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := fmt.Sprintf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		d.log.Warn("teams notification rejected", zap.Uint64("request_id", req.ID), zap.String("reason", reason))
		return d.record(Delivery{Outcome: Failed, Reason: reason})
	}

	id := fmt.Sprintf("teams_notification_%d_%s", req.ID, ulid.Make())
	d.log.Info("teams notification sent",
		zap.Uint64("request_id", req.ID), zap.String("delivery_id", id))
	return d.record(Delivery{Outcome: Delivered, ID: id})
}

func (d *Dispatcher) record(del Delivery) Delivery {
	d.metrics.Notification(string(del.Outcome))
	return del
}

type messageCard struct {
	Type            string          `json:"@type"`
	Context         string          `json:"@context"`
	ThemeColor      string          `json:"themeColor"`
	Summary         string          `json:"summary"`
	Sections        []cardSection   `json:"sections"`
	PotentialAction []openURIAction `json:"potentialAction"`
}

type cardSection struct {
	ActivityTitle    string `json:"activityTitle"`
	ActivitySubtitle string `json:"activitySubtitle"`
	Facts            []fact `json:"facts"`
	Text             string `json:"text"`
	Markdown         bool   `json:"markdown"`
}

type fact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type openURIAction struct {
	Type    string      `json:"@type"`
	Name    string      `json:"name"`
	Targets []uriTarget `json:"targets"`
}

type uriTarget struct {
	OS  string `json:"os"`
	URI string `json:"uri"`
}

func (d *Dispatcher) card(req *support.Request) messageCard {
	category := "Not classified"
	if c := req.CategoryOrEmpty(); c != "" {
		category = string(c)
	}
	return messageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: themeColor,
		Summary:    fmt.Sprintf("Cancellation Request from %s", req.CustomerName),
		Sections: []cardSection{{
			ActivityTitle:    "Customer Cancellation Request",
			ActivitySubtitle: fmt.Sprintf("Request ID: %d", req.ID),
			Facts: []fact{
				{Name: "Customer", Value: req.CustomerName},
				{Name: "Email", Value: req.Email},
				{Name: "Subject", Value: req.Subject},
				{Name: "Category", Value: category},
				{Name: "Created", Value: req.CreatedAt.UTC().Format(timeLayout)},
			},
			Text:     "**Description:**\n\n" + excerpt(req.Description, excerptRunes),
			Markdown: true,
		}},
		PotentialAction: []openURIAction{{
			Type:    "OpenUri",
			Name:    "View Request",
			Targets: []uriTarget{{OS: "default", URI: fmt.Sprintf("%s/admin/requests/%d", d.publicBaseURL, req.ID)}},
		}},
	}
}

// excerpt keeps the first limit runes of s and appends "..." when it cut.
func excerpt(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
