package provider

import (
	"context"
	"errors"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

type AnthropicProvider struct {
	apiKey string
	model  string
	client anthropic.Client
}

func NewAnthropicProvider(apiKey, model string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	if model == "" {
		model = "claude-sonnet-4-5"
	}

	return &AnthropicProvider{
		apiKey: apiKey,
		model:  model,
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// SetBaseURL points the client at another endpoint (useful for tests).
// Retries are disabled so failures surface immediately.
func (p *AnthropicProvider) SetBaseURL(url string) {
	p.client = anthropic.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(url),
		option.WithMaxRetries(0),
	)
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, opts ...ChatOption) (*Response, error) {
	system, rest := splitSystem(messages)

	msgs := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	sampling := ResolveSampling(opts...)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  msgs,
		MaxTokens: AnthropicMaxTokens,
	}
	if sampling.MaxTokens != nil {
		params.MaxTokens = int64(*sampling.MaxTokens)
	}
	if sampling.Temperature != nil {
		params.Temperature = param.NewOpt(*sampling.Temperature)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion failed: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &Response{
		Content: content,
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}
