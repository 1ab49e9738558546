package validate

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"panther-attest/internal/provider"
)

// ErrNoProviders is returned when a validator is constructed with an empty
// provider list. It is a configuration error and is never retried.
var ErrNoProviders = errors.New("no providers configured")

// Result is one provider's scored completion. Results are immutable once
// created.
type Result struct {
	ProviderName   string   `json:"provider_name"`
	AdherenceScore float64  `json:"adherence_score"`
	MissingTerms   []string `json:"missing_terms"`
	LatencyMS      int64    `json:"latency_ms"`
	Cost           *float64 `json:"cost"`
	RawText        string   `json:"raw_text"`
}

// Validator fans a prompt out to every configured provider and scores each
// completion against the aggregated guideline terms.
type Validator struct {
	guidelines []Guideline
	providers  []provider.Named
}

func New(guidelines []Guideline, providers []provider.Named) (*Validator, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	return &Validator{guidelines: guidelines, providers: providers}, nil
}

// Validate runs one goroutine per provider and joins on all of them. A
// provider failure never aborts the batch; it becomes a zero-score result
// carrying the error text. The returned slice is sorted by descending score;
// tie order is unspecified.
//
// Validate imposes no timeout of its own. Callers cancel via ctx, which
// providers propagate into their network calls.
func (v *Validator) Validate(ctx context.Context, prompt string) []Result {
	expected := ExpectedTerms(v.guidelines)

	results := make([]Result, len(v.providers))
	var wg sync.WaitGroup
	for i, named := range v.providers {
		wg.Add(1)
		go func(i int, named provider.Named) {
			defer wg.Done()
			start := time.Now()
			completion, err := named.Provider.Generate(ctx, prompt)
			latency := time.Since(start).Milliseconds()
			if err != nil {
				results[i] = Result{
					ProviderName:   named.Label,
					AdherenceScore: 0,
					MissingTerms:   append([]string(nil), expected...),
					LatencyMS:      latency,
					RawText:        "error: " + err.Error(),
				}
				return
			}
			score, missing := scoreText(completion.Text, expected)
			results[i] = Result{
				ProviderName:   named.Label,
				AdherenceScore: score,
				MissingTerms:   missing,
				LatencyMS:      latency,
				RawText:        completion.Text,
			}
		}(i, named)
	}
	wg.Wait()

	sort.Slice(results, func(a, b int) bool {
		return results[a].AdherenceScore > results[b].AdherenceScore
	})
	return results
}

// scoreText does a case-insensitive substring check per expected term.
// Empty term list means a perfect score regardless of text.
func scoreText(text string, expected []string) (float64, []string) {
	if len(expected) == 0 {
		return 100, []string{}
	}
	lower := strings.ToLower(text)
	missing := []string{}
	for _, term := range expected {
		if !strings.Contains(lower, strings.ToLower(term)) {
			missing = append(missing, term)
		}
	}
	total := float64(len(expected))
	score := 100 - float64(len(missing))*(100/total)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, missing
}
