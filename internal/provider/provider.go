package provider

import (
	"context"
	"fmt"
	"strings"
)

// Completion is one provider response to a prompt.
type Completion struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// Provider abstracts one LLM backend. Implementations must honor ctx
// cancellation so that stage deadlines abort in-flight calls.
type Provider interface {
	Generate(ctx context.Context, prompt string) (Completion, error)
	Name() string
}

// Config selects and parameterizes a backend from request data.
type Config struct {
	Type    string `json:"type"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

// Named pairs a provider with the label used in validation results.
type Named struct {
	Label    string
	Provider Provider
}

// Build instantiates providers from configuration. Entries with an unknown
// type or missing required fields are skipped; callers decide whether an
// empty result is an error.
func Build(configs []Config) []Named {
	out := make([]Named, 0, len(configs))
	for _, cfg := range configs {
		switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
		case "openai":
			if cfg.APIKey == "" || cfg.Model == "" {
				continue
			}
			out = append(out, Named{
				Label:    fmt.Sprintf("openai:%s", cfg.Model),
				Provider: NewOpenAI(cfg),
			})
		case "ollama":
			if cfg.BaseURL == "" || cfg.Model == "" {
				continue
			}
			out = append(out, Named{
				Label:    fmt.Sprintf("ollama:%s", cfg.Model),
				Provider: NewOllama(cfg),
			})
		case "echo":
			out = append(out, Named{
				Label:    "echo",
				Provider: EchoProvider{},
			})
		}
	}
	return out
}

// EchoProvider returns the prompt back. Useful for wiring checks and tests.
type EchoProvider struct{}

func (EchoProvider) Generate(_ context.Context, prompt string) (Completion, error) {
	return Completion{Text: "echo: " + prompt, Model: "echo"}, nil
}

func (EchoProvider) Name() string { return "echo" }
