package gateway

import (
	"context"
	"time"
)

// ModelSummary is the per-model slice of a cost summary.
type ModelSummary struct {
	Calls          int     `json:"calls"`
	InputTokens    int64   `json:"inputTokens"`
	OutputTokens   int64   `json:"outputTokens"`
	ThinkingTokens int64   `json:"thinkingTokens"`
	CostUSD        float64 `json:"costUsd"`
}

// CostSummary aggregates the ledger for the usage and cost commands.
type CostSummary struct {
	TotalCalls     int                     `json:"totalCalls"`
	InputTokens    int64                   `json:"inputTokens"`
	OutputTokens   int64                   `json:"outputTokens"`
	ThinkingTokens int64                   `json:"thinkingTokens"`
	TotalCostUSD   float64                 `json:"totalCostUsd"`
	ByModel        map[string]ModelSummary `json:"byModel"`
}

// Summary aggregates ledger rows after the given cutoff time (the zero
// time for lifetime).
func (g *Gateway) Summary(ctx context.Context, since time.Time) (CostSummary, error) {
	out := CostSummary{ByModel: map[string]ModelSummary{}}
	if g.ledger == nil {
		return out, nil
	}
	cutoff := 0.0
	if !since.IsZero() {
		cutoff = epochOf(since)
	}
	usage, err := g.ledger.UsageSince(ctx, cutoff)
	if err != nil {
		return out, err
	}
	for _, u := range usage {
		costs, ok := modelCosts[u.Model]
		if !ok {
			costs = defaultModelCost
		}
		cost := (float64(u.InputTokens)*costs.Input +
			float64(u.OutputTokens+u.ThinkingTokens)*costs.Output) / 1_000_000
		out.TotalCalls += u.Calls
		out.InputTokens += u.InputTokens
		out.OutputTokens += u.OutputTokens
		out.ThinkingTokens += u.ThinkingTokens
		out.TotalCostUSD += cost
		out.ByModel[u.Model] = ModelSummary{
			Calls:          u.Calls,
			InputTokens:    u.InputTokens,
			OutputTokens:   u.OutputTokens,
			ThinkingTokens: u.ThinkingTokens,
			CostUSD:        cost,
		}
	}
	return out, nil
}
