// Package classify assigns a category, summary and confidence to a support
// request. A remote model is used when reachable; otherwise a deterministic
// keyword table decides. Classify never fails: degraded outcomes are carried
// on the Result.
package classify

import (
	"time"

	"github.com/suPer8Hu/support-triage/internal/support"
)

type Method string

const (
	MethodRemoteAI Method = "remote_ai"
	MethodFallback Method = "fallback"
)

type Result struct {
	Category    support.Category `json:"category"`
	Summary     string           `json:"summary"`
	Confidence  float64          `json:"confidence"`
	Method      Method           `json:"method"`
	Model       string           `json:"model,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	NeedsReview bool             `json:"needs_review"`

	// Degraded is empty when the remote model answered; otherwise it holds
	// the reason the fallback path was taken.
	Degraded string `json:"degraded,omitempty"`
}

func (r Result) IsDegraded() bool { return r.Degraded != "" }

// Classification converts the result into the fields persisted on the
// request.
func (r Result) Classification() support.Classification {
	return support.Classification{
		Category:   r.Category,
		Summary:    r.Summary,
		Confidence: r.Confidence,
		Method:     string(r.Method),
	}
}
