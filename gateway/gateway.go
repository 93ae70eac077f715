// Package gateway is the single call surface every pipeline node uses to
// reach a model. It enforces spend budgets, retries transient failures
// and empty responses, and routes between the remote provider and the
// local one.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pravindurgani/agent-sutra/llm"
	"github.com/pravindurgani/agent-sutra/providers/anthropic"
	"github.com/pravindurgani/agent-sutra/store"
	"github.com/pravindurgani/agent-sutra/types"
)

// Purpose tags what a call is for; routing keys off it.
type Purpose string

const (
	PurposeClassify Purpose = "classify"
	PurposePlan     Purpose = "plan"
	PurposeCodeGen  Purpose = "code_gen"
	PurposeAudit    Purpose = "audit"
	PurposeGeneral  Purpose = "general"
)

// Complexity is the caller's own estimate; only "low" unlocks the local
// route.
type Complexity string

const (
	ComplexityLow  Complexity = "low"
	ComplexityHigh Complexity = "high"
)

// ErrBudgetExceeded is returned instead of making a remote call once the
// configured daily or monthly spend cap is reached.
var ErrBudgetExceeded = errors.New("gateway: API budget exceeded")

// Request is a routed model call.
type Request struct {
	Purpose     Purpose
	Complexity  Complexity
	Prompt      string
	System      string
	MaxTokens   int
	Thinking    bool
	Temperature float64
}

// Ledger is the slice of the store the gateway needs.
type Ledger interface {
	RecordUsage(ctx context.Context, rec types.UsageRecord) error
	UsageSince(ctx context.Context, cutoff float64) ([]store.ModelUsage, error)
}

// LocalProvider is a provider with a cheap health probe.
type LocalProvider interface {
	llm.Provider
	Healthy(ctx context.Context) bool
}

// USD per million tokens. Thinking tokens are priced as output.
type modelCost struct {
	Input  float64
	Output float64
}

var modelCosts = map[string]modelCost{
	"claude-sonnet-4-6":         {Input: 3.00, Output: 15.00},
	"claude-opus-4-6":           {Input: 15.00, Output: 75.00},
	"claude-haiku-4-5-20251001": {Input: 0.80, Output: 4.00},
}

var defaultModelCost = modelCost{Input: 3.00, Output: 15.00}

// Options configures a Gateway.
type Options struct {
	DefaultModel      string
	ComplexModel      string
	LocalDefaultModel string
	EnableThinking    bool
	MaxRetries        int
	DailyBudgetUSD    float64
	MonthlyBudgetUSD  float64
	EscalationRatio   float64 // fraction of the daily cap that triggers local routing
	RAMThresholdLocal float64 // percent above which the local route is skipped
}

// Gateway routes and executes model calls.
type Gateway struct {
	remote llm.Provider
	local  LocalProvider
	ledger Ledger
	opts   Options

	// memPercent is swappable for tests.
	memPercent func() (float64, error)

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

func New(remote llm.Provider, local LocalProvider, ledger Ledger, opts Options, memPercent func() (float64, error)) *Gateway {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.EscalationRatio <= 0 {
		opts.EscalationRatio = 0.7
	}
	if opts.RAMThresholdLocal <= 0 {
		opts.RAMThresholdLocal = 75
	}
	return &Gateway{
		remote:     remote,
		local:      local,
		ledger:     ledger,
		opts:       opts,
		memPercent: memPercent,
		sleep:      time.Sleep,
	}
}

type route struct {
	provider string // "remote" | "local"
	model    string
}

// selectRoute applies the routing rules in order. Audit never routes to
// the local model: cross-model review is the core safety invariant.
func (g *Gateway) selectRoute(ctx context.Context, purpose Purpose, complexity Complexity) route {
	if purpose == PurposeAudit {
		return route{provider: "remote", model: g.opts.ComplexModel}
	}
	if purpose == PurposeCodeGen {
		return route{provider: "remote", model: g.opts.DefaultModel}
	}

	lowTier := purpose == PurposeClassify || purpose == PurposePlan

	if lowTier && g.dailySpendExceedsThreshold(ctx) && g.localUsable(ctx) {
		log.Printf("gateway: budget escalation, routing %s to local model", purpose)
		return route{provider: "local", model: g.opts.LocalDefaultModel}
	}

	if lowTier && complexity == ComplexityLow && g.localUsable(ctx) && g.ramBelow(g.opts.RAMThresholdLocal) {
		return route{provider: "local", model: g.opts.LocalDefaultModel}
	}

	return route{provider: "remote", model: g.opts.DefaultModel}
}

func (g *Gateway) localUsable(ctx context.Context) bool {
	return g.local != nil && g.local.Healthy(ctx)
}

func (g *Gateway) ramBelow(percent float64) bool {
	if g.memPercent == nil {
		// No probe available: default to safe, keep traffic remote.
		return false
	}
	used, err := g.memPercent()
	if err != nil {
		return false
	}
	return used < percent
}

// Call routes and executes the request, with retry and backoff on
// transient errors and on empty or thinking-only responses.
func (g *Gateway) Call(ctx context.Context, req Request) (string, error) {
	if ctx.Err() != nil {
		log.Printf("gateway: Call invoked with an already-cancelled context; callers must run off the request path")
	}

	r := g.selectRoute(ctx, req.Purpose, req.Complexity)
	log.Printf("gateway: routed %s (complexity=%s) to %s/%s", req.Purpose, req.Complexity, r.provider, r.model)

	if r.provider == "local" {
		text, err := g.callOnce(ctx, g.local, llm.Request{
			Model:     r.model,
			System:    req.System,
			Prompt:    req.Prompt,
			MaxTokens: req.MaxTokens,
		})
		if err == nil {
			return text, nil
		}
		log.Printf("gateway: local call failed, falling back to remote: %v", err)
		r = route{provider: "remote", model: g.opts.DefaultModel}
	}

	if err := g.checkBudget(ctx); err != nil {
		return "", err
	}

	return g.callWithRetry(ctx, llm.Request{
		Model:       r.model,
		System:      req.System,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Thinking:    req.Thinking && g.opts.EnableThinking,
		Temperature: req.Temperature,
	})
}

func (g *Gateway) callOnce(ctx context.Context, provider llm.Provider, req llm.Request) (string, error) {
	resp, err := provider.Generate(ctx, req)
	g.persistUsage(ctx, resp)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (g *Gateway) callWithRetry(ctx context.Context, req llm.Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt < g.opts.MaxRetries; attempt++ {
		resp, err := g.remote.Generate(ctx, req)
		g.persistUsage(ctx, resp)
		if err == nil {
			log.Printf("gateway: call ok: model=%s input=%d output=%d thinking=%d",
				resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.ThinkingTokens)
			return resp.Text, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
		if attempt == g.opts.MaxRetries-1 {
			break
		}
		wait := backoff(err, attempt)
		log.Printf("gateway: transient failure (%v), retrying in %s (attempt %d)", err, wait, attempt+1)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		g.sleep(wait)
	}
	return "", fmt.Errorf("gateway: call failed after %d attempts: %w", g.opts.MaxRetries, lastErr)
}

func (g *Gateway) persistUsage(ctx context.Context, resp llm.Response) {
	if g.ledger == nil || resp.Model == "" {
		return
	}
	u := resp.Usage
	if u.InputTokens == 0 && u.OutputTokens == 0 && u.ThinkingTokens == 0 {
		return
	}
	rec := types.UsageRecord{
		Model:          resp.Model,
		InputTokens:    u.InputTokens,
		OutputTokens:   u.OutputTokens,
		ThinkingTokens: u.ThinkingTokens,
		Timestamp:      float64(time.Now().UnixNano()) / float64(time.Second),
	}
	if err := g.ledger.RecordUsage(ctx, rec); err != nil {
		log.Printf("gateway: failed to persist usage record: %v", err)
	}
}

// isRetryable covers rate limits, request timeouts, server errors, raw
// transport failures, and the empty/thinking-only response case. The
// last one is deliberate and separate from API errors: without it a
// transient thinking-only response surfaces as lost work.
func isRetryable(err error) bool {
	if errors.Is(err, llm.ErrEmptyResponse) {
		return true
	}
	var statusErr *anthropic.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 429, statusErr.StatusCode == 408:
			return true
		case statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	// Transport-level failure (connection reset, timeout).
	return true
}

func backoff(err error, attempt int) time.Duration {
	shift := attempt
	var statusErr *anthropic.StatusError
	if errors.Is(err, llm.ErrEmptyResponse) || (errors.As(err, &statusErr) && statusErr.StatusCode == 429) {
		shift = attempt + 1
	}
	if shift > 6 {
		shift = 6
	}
	return time.Duration(1<<shift) * time.Second
}
