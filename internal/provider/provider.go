package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single request when the caller gives none.
	DefaultTimeout = 30 * time.Second
	// DefaultTemperature and DefaultMaxTokens are the reply sampling settings
	// used when a request passes no ChatOption.
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned by Complete when the model produced no text.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response represents the output from the model.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add sums two usage records.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Provider defines the interface for generative-text model interactions.
type Provider interface {
	// Chat sends a list of messages to the model and returns a response.
	// Options override the reply sampling settings for this request only.
	Chat(ctx context.Context, messages []Message, opts ...ChatOption) (*Response, error)

	// Name returns the provider identifier (e.g., "stub", "openai").
	Name() string
}

// Complete runs one request bounded by timeout and returns the trimmed text.
// A non-positive timeout selects DefaultTimeout.
func Complete(ctx context.Context, p Provider, messages []Message, timeout time.Duration, opts ...ChatOption) (string, Usage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.Chat(ctx, messages, opts...)
	if err != nil {
		return "", Usage{}, fmt.Errorf("%s: %w", p.Name(), err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", resp.Usage, fmt.Errorf("%s: %w", p.Name(), ErrEmptyResponse)
	}
	return text, resp.Usage, nil
}

// splitSystem separates leading system messages (joined by blank lines) from
// the rest of the conversation, for APIs that take the system prompt apart.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
