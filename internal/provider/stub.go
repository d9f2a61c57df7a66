package provider

import (
	"context"
	"errors"
	"sync"
	"time"
)

// StubProvider replays scripted responses. It is used by tests and by the
// "stub" provider flag for offline runs.
type StubProvider struct {
	mu        sync.Mutex
	Responses []Response
	// Errors, when non-nil at the head, are returned instead of a response.
	Errors []error
	// Fallback is returned once the script runs out.
	Fallback Response
	// Delay simulates latency; the context is honoured while waiting.
	Delay time.Duration
	// Requests captures every message list received.
	Requests [][]Message
	// Sampling captures the resolved settings of every request.
	Sampling []Sampling
}

func NewStubProvider(responses ...Response) *StubProvider {
	return &StubProvider{
		Responses: responses,
		Fallback: Response{
			Content: "[]",
			Usage:   Usage{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11},
		},
	}
}

// NewStubText is a shorthand for scripted plain-text responses.
func NewStubText(texts ...string) *StubProvider {
	responses := make([]Response, len(texts))
	for i, t := range texts {
		responses[i] = Response{Content: t, Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	}
	return NewStubProvider(responses...)
}

// FailNext queues err for the next call.
func (m *StubProvider) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, err)
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message, opts ...ChatOption) (*Response, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, append([]Message(nil), messages...))
	m.Sampling = append(m.Sampling, ResolveSampling(opts...))
	delay := m.Delay
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Errors) > 0 {
		err := m.Errors[0]
		m.Errors = m.Errors[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(m.Responses) == 0 {
		resp := m.Fallback
		return &resp, nil
	}

	resp := m.Responses[0]
	m.Responses = m.Responses[1:]
	return &resp, nil
}

// Calls reports how many requests the stub received.
func (m *StubProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

func (m *StubProvider) Name() string {
	return "stub"
}

// ErrStubUnavailable is a canned failure for tests.
var ErrStubUnavailable = errors.New("stub provider unavailable")
