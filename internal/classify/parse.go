package classify

import (
	"encoding/json"
	"strings"
)

// Candidate is a decoded JSON object from a model response, before
// validation.
type Candidate map[string]any

// ParseStrategy tries to pull a Candidate out of raw model output.
type ParseStrategy struct {
	Name  string
	Parse func(text string) (Candidate, bool)
}

// DefaultStrategies run in order; the first success wins.
var DefaultStrategies = []ParseStrategy{
	{Name: "strict_json", Parse: parseStrict},
	{Name: "balanced_braces", Parse: parseBalanced},
}

// ParseResponse returns the first candidate produced by strategies together
// with the name of the strategy that produced it.
func ParseResponse(text string, strategies []ParseStrategy) (Candidate, string, bool) {
	for _, s := range strategies {
		if c, ok := s.Parse(text); ok {
			return c, s.Name, true
		}
	}
	return nil, "", false
}

func decodeObject(s string) (Candidate, bool) {
	var c Candidate
	if err := json.Unmarshal([]byte(s), &c); err != nil || c == nil {
		return nil, false
	}
	return c, true
}

func parseStrict(text string) (Candidate, bool) {
	return decodeObject(strings.TrimSpace(text))
}

// parseBalanced tries every balanced {...} substring, left to right, and
// accepts the first that decodes. Braces inside string literals do not
// count.
func parseBalanced(text string) (Candidate, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end := matchBrace(text, i)
		if end < 0 {
			continue
		}
		if c, ok := decodeObject(text[i : end+1]); ok {
			return c, true
		}
	}
	return nil, false
}

// matchBrace returns the index of the '}' closing the '{' at start, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for j := start; j < len(s); j++ {
		c := s[j]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}
