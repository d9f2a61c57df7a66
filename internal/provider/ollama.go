package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"
)

type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllamaProvider talks to baseURL, falling back to OLLAMA_HOST and then the
// local default port.
func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	if model == "" {
		model = "llama3.2"
	}

	if baseURL == "" {
		baseURL = "http://localhost:11434"
		if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
			baseURL = envURL
		}
	}
	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}

	return &OllamaProvider{
		client: api.NewClient(uri, http.DefaultClient),
		model:  model,
	}, nil
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message, opts ...ChatOption) (*Response, error) {
	apiMsgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		apiMsgs = append(apiMsgs, api.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	options := map[string]any{}
	sampling := ResolveSampling(opts...)
	if sampling.Temperature != nil {
		options["temperature"] = *sampling.Temperature
	}
	if sampling.MaxTokens != nil {
		options["num_predict"] = *sampling.MaxTokens
	}

	req := &api.ChatRequest{
		Model:    p.model,
		Messages: apiMsgs,
		Stream:   new(bool), // false
		Options:  options,
	}

	var respContent string
	var usage Usage

	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		respContent += resp.Message.Content
		if resp.Done {
			usage = Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}

	return &Response{
		Content: respContent,
		Usage:   usage,
	}, nil
}
