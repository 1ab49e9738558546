package provider

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider targets OpenAI or any chat-completions compatible endpoint.
type OpenAIProvider struct {
	model  string
	client *openai.Client
}

func NewOpenAI(cfg Config) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		clientCfg.BaseURL = base + "/v1"
	}
	return &OpenAIProvider{
		model:  cfg.Model,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (Completion, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("openai generate: empty choices for model %s", p.model)
	}
	return Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: p.model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }
