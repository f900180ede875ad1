package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/support-triage/internal/support"
)

type keywordRule struct {
	keyword  string
	category support.Category
}

// keywordRules is scanned in order and the first hit wins, so a text
// containing both "cancel" and "billing" is a cancellation.
var keywordRules = []keywordRule{
	{"cancel", support.CategoryCancellationRequest},
	{"refund", support.CategoryCancellationRequest},
	{"stop", support.CategoryCancellationRequest},
	{"billing", support.CategoryBilling},
	{"payment", support.CategoryBilling},
	{"invoice", support.CategoryBilling},
	{"technical", support.CategoryTechnicalIssue},
	{"bug", support.CategoryTechnicalIssue},
	{"error", support.CategoryTechnicalIssue},
	{"crash", support.CategoryTechnicalIssue},
	{"feature", support.CategoryFeatureRequest},
	{"suggestion", support.CategoryFeatureRequest},
	{"complaint", support.CategoryComplaint},
	{"problem", support.CategoryComplaint},
}

const (
	keywordConfidence = 0.6
	defaultFallback   = 0.5
)

// Fallback classifies by keyword without any network access.
func Fallback(subject, description string, now time.Time) Result {
	text := strings.ToLower(subject + " " + description)
	for _, r := range keywordRules {
		if strings.Contains(text, r.keyword) {
			return Result{
				Category:   r.category,
				Summary:    fmt.Sprintf("Fallback classification: %s (keyword: %s)", r.category, r.keyword),
				Confidence: keywordConfidence,
				Method:     MethodFallback,
				Timestamp:  now,
			}
		}
	}
	return Result{
		Category:    support.CategoryGeneralInquiry,
		Summary:     "General inquiry - requires manual review",
		Confidence:  defaultFallback,
		Method:      MethodFallback,
		Timestamp:   now,
		NeedsReview: true,
	}
}
