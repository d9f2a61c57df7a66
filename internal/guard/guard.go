// Package guard enforces per-session limits on chat input and model usage.
package guard

import (
	"fmt"
	"unicode/utf8"
)

// Policy defines the limits of a chat session. Zero means unlimited.
type Policy struct {
	MaxInputChars   int `json:"max_input_chars"`
	MaxReplies      int `json:"max_replies"`
	MaxPromptTokens int `json:"max_prompt_tokens"`
	MaxOutputTokens int `json:"max_output_tokens"`
}

// DefaultPolicy caps message size and leaves usage unlimited.
var DefaultPolicy = Policy{
	MaxInputChars: 8000,
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
	// Fatal violations end the session's ability to get replies.
	Fatal bool
}

func (v *Violation) Error() string {
	return v.Rule + ": " + v.Message
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckInput verifies a user message fits the input limit.
func (g *Guard) CheckInput(text string) *Violation {
	if g.policy.MaxInputChars <= 0 {
		return nil
	}
	if n := utf8.RuneCountInString(text); n > g.policy.MaxInputChars {
		return &Violation{
			Rule:    "max_input_chars",
			Message: fmt.Sprintf("Your message is %d characters long; the limit is %d.", n, g.policy.MaxInputChars),
		}
	}
	return nil
}

// CheckBudget verifies the session may request another reply.
func (g *Guard) CheckBudget(replies, promptTokens, outputTokens int) *Violation {
	if g.policy.MaxReplies > 0 && replies >= g.policy.MaxReplies {
		return &Violation{Rule: "max_replies", Message: "This session has reached its reply limit.", Fatal: true}
	}
	if g.policy.MaxPromptTokens > 0 && promptTokens >= g.policy.MaxPromptTokens {
		return &Violation{Rule: "max_prompt_tokens", Message: "This session has used its prompt token budget.", Fatal: true}
	}
	if g.policy.MaxOutputTokens > 0 && outputTokens >= g.policy.MaxOutputTokens {
		return &Violation{Rule: "max_output_tokens", Message: "This session has used its output token budget.", Fatal: true}
	}
	return nil
}
