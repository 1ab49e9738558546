package validate

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

// Guideline is a topic plus the terms a compliant answer must contain.
type Guideline struct {
	Topic         string   `json:"topic"`
	ExpectedTerms []string `json:"expected_terms"`
}

//go:embed guidelines/anvisa.json
var defaultGuidelinesJSON string

// DefaultGuidelinesJSON returns the bundled health-content guideline set,
// used when a plan does not supply its own.
func DefaultGuidelinesJSON() string {
	return defaultGuidelinesJSON
}

func ParseGuidelines(raw string) ([]Guideline, error) {
	var out []Guideline
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse guidelines: %w", err)
	}
	return out, nil
}

// ExpectedTerms flattens guideline terms in order. Duplicates are kept: a
// term listed by two guidelines counts twice in the penalty denominator.
func ExpectedTerms(guidelines []Guideline) []string {
	var out []string
	for _, g := range guidelines {
		out = append(out, g.ExpectedTerms...)
	}
	return out
}
