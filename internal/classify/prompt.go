package classify

import (
	"fmt"
	"strings"

	"github.com/suPer8Hu/support-triage/internal/support"
)

func categoryList() string {
	var b strings.Builder
	for _, c := range support.Categories {
		b.WriteString("- ")
		b.WriteString(string(c))
		b.WriteString("\n")
	}
	return b.String()
}

// BuildPrompt asks the model for exactly one JSON object with the fields
// category, summary and confidence.
func BuildPrompt(subject, description string) string {
	return fmt.Sprintf(`You are a customer support classification system. Analyze this support request and classify it into ONE of these exact categories:
%s
Support Request:
Subject: %s
Description: %s

Respond with ONLY a JSON object in this exact format:
{
    "category": "one_of_the_categories_above",
    "summary": "Brief 1-2 sentence summary of the issue",
    "confidence": 0.95
}

Do not include any other text or explanations.`, categoryList(), subject, description)
}
