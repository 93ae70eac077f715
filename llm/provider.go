// Package llm defines the provider abstraction shared by the remote and
// local model clients.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse marks a response that carried no usable text — either
// an empty content list or thinking blocks only. The gateway retries
// these the same way it retries transient API errors.
var ErrEmptyResponse = errors.New("llm: response contained no text content")

// Request is a single-turn generation request.
type Request struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
	// Thinking enables extended reasoning where the provider supports
	// it. Thinking output never reaches the caller; only text blocks do.
	Thinking    bool
	Temperature float64
}

// Usage counts the tokens consumed by one call. Thinking tokens are
// priced as output tokens.
type Usage struct {
	InputTokens    int
	OutputTokens   int
	ThinkingTokens int
}

// Response is the provider's answer.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Provider is implemented by each model backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}
