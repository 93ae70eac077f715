// Package anthropic implements the remote model provider over the
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pravindurgani/agent-sutra/llm"
)

const (
	defaultModel      = "claude-sonnet-4-6"
	anthropicVersion  = "2023-06-01"
	defaultMaxTokens  = 4096
	defaultAPIBaseURL = "https://api.anthropic.com"

	// max_tokens is the combined budget for thinking and text. Too low
	// and the model can spend it all on thinking and return zero text
	// blocks, so thinking calls are floored here.
	thinkingMaxTokensFloor = 16000
)

// StatusError is returned for non-2xx API responses so the gateway can
// distinguish retryable statuses (429, 5xx, 408) from permanent ones.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("anthropic API error (%d): %s", e.StatusCode, e.Body)
}

type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	c := &Client{
		apiKey:  strings.TrimSpace(apiKey),
		model:   defaultModel,
		baseURL: defaultAPIBaseURL,
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload := apiRequest{
		Model:     model,
		System:    req.System,
		MaxTokens: maxTokens,
		Messages: []apiMessage{
			{Role: "user", Content: []apiContentBlock{{Type: "text", Text: req.Prompt}}},
		},
	}
	if req.Thinking {
		payload.Thinking = &apiThinking{Type: "adaptive"}
		if payload.MaxTokens < thinkingMaxTokensFloor {
			payload.MaxTokens = thinkingMaxTokensFloor
		}
		// Temperature must not be set together with thinking.
	} else if req.Temperature > 0 {
		payload.Temperature = &req.Temperature
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return llm.Response{}, fmt.Errorf("failed to marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return llm.Response{}, fmt.Errorf("failed to create anthropic request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("failed to read anthropic response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return llm.Response{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return llm.Response{}, fmt.Errorf("failed to decode anthropic response: %w", err)
	}

	// Thinking responses interleave thinking and text blocks; only text
	// blocks reach the caller.
	var parts []string
	for _, block := range apiResp.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}

	out := llm.Response{
		Text:  strings.TrimSpace(strings.Join(parts, "\n")),
		Model: model,
		Usage: llm.Usage{
			InputTokens:    apiResp.Usage.InputTokens,
			OutputTokens:   apiResp.Usage.OutputTokens,
			ThinkingTokens: apiResp.Usage.ThinkingTokens,
		},
	}
	if len(apiResp.Content) == 0 || out.Text == "" {
		return out, llm.ErrEmptyResponse
	}
	return out, nil
}

type apiRequest struct {
	Model       string       `json:"model"`
	System      string       `json:"system,omitempty"`
	MaxTokens   int          `json:"max_tokens"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	Thinking    *apiThinking `json:"thinking,omitempty"`
}

type apiThinking struct {
	Type string `json:"type"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	Content []apiContentBlock `json:"content"`
	Usage   struct {
		InputTokens    int `json:"input_tokens"`
		OutputTokens   int `json:"output_tokens"`
		ThinkingTokens int `json:"thinking_tokens"`
	} `json:"usage"`
}
