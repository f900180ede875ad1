package classify

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/support-triage/internal/support"
)

const (
	maxSummaryRunes   = 500
	defaultConfidence = 0.7
	noSummary         = "No summary provided"
)

// parseFailure is used when no strategy could decode the model output.
var parseFailure = Candidate{
	"category":   string(support.CategoryGeneralInquiry),
	"summary":    "AI parsing failed - manual review needed",
	"confidence": 0.3,
}

// Sanitize coerces a candidate into a valid remote result.
func Sanitize(c Candidate, model string, now time.Time) Result {
	return Result{
		Category:   sanitizeCategory(c["category"]),
		Summary:    sanitizeSummary(c["summary"]),
		Confidence: sanitizeConfidence(c["confidence"]),
		Method:     MethodRemoteAI,
		Model:      model,
		Timestamp:  now,
	}
}

func sanitizeCategory(v any) support.Category {
	s, _ := v.(string)
	c := support.Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return support.CategoryGeneralInquiry
	}
	return c
}

func sanitizeSummary(v any) string {
	s, ok := v.(string)
	if !ok {
		return noSummary
	}
	return truncate(s, maxSummaryRunes)
}

func sanitizeConfidence(v any) float64 {
	f, ok := v.(float64)
	if !ok || f < 0 || f > 1 {
		return defaultConfidence
	}
	return f
}

// truncate caps s at limit runes, the last three being "..." when cut.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}
