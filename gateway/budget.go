package gateway

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pravindurgani/agent-sutra/store"
)

// costOf prices aggregated usage. Thinking tokens are charged at the
// output rate.
func costOf(usage []store.ModelUsage) float64 {
	total := 0.0
	for _, u := range usage {
		costs, ok := modelCosts[u.Model]
		if !ok {
			costs = defaultModelCost
		}
		total += (float64(u.InputTokens)*costs.Input +
			float64(u.OutputTokens+u.ThinkingTokens)*costs.Output) / 1_000_000
	}
	return total
}

func epochOf(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// startOfDayUTC returns UTC midnight of the current day.
func startOfDayUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// startOfMonthUTC returns the first instant of the current UTC month.
func startOfMonthUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// SpendToday returns the cost of today's ledger rows (UTC day boundary).
func (g *Gateway) SpendToday(ctx context.Context) (float64, error) {
	if g.ledger == nil {
		return 0, nil
	}
	usage, err := g.ledger.UsageSince(ctx, epochOf(startOfDayUTC(time.Now())))
	if err != nil {
		return 0, err
	}
	return costOf(usage), nil
}

// SpendThisMonth returns the cost of this month's ledger rows.
func (g *Gateway) SpendThisMonth(ctx context.Context) (float64, error) {
	if g.ledger == nil {
		return 0, nil
	}
	usage, err := g.ledger.UsageSince(ctx, epochOf(startOfMonthUTC(time.Now())))
	if err != nil {
		return 0, err
	}
	return costOf(usage), nil
}

// checkBudget compares the windowed spend against the configured caps
// before every remote call. A failed ledger read allows the call; an
// exceeded cap refuses it with ErrBudgetExceeded.
func (g *Gateway) checkBudget(ctx context.Context) error {
	if g.ledger == nil || (g.opts.DailyBudgetUSD == 0 && g.opts.MonthlyBudgetUSD == 0) {
		return nil
	}

	type window struct {
		label  string
		cutoff time.Time
		limit  float64
	}
	now := time.Now()
	windows := []window{}
	if g.opts.DailyBudgetUSD > 0 {
		windows = append(windows, window{"daily", startOfDayUTC(now), g.opts.DailyBudgetUSD})
	}
	if g.opts.MonthlyBudgetUSD > 0 {
		windows = append(windows, window{"monthly", startOfMonthUTC(now), g.opts.MonthlyBudgetUSD})
	}

	for _, w := range windows {
		usage, err := g.ledger.UsageSince(ctx, epochOf(w.cutoff))
		if err != nil {
			log.Printf("gateway: budget check failed (allowing call): %v", err)
			return nil
		}
		spend := costOf(usage)
		if spend >= w.limit {
			return fmt.Errorf("%w: %s spend $%.2f >= $%.2f limit", ErrBudgetExceeded, w.label, spend, w.limit)
		}
	}
	return nil
}

// dailySpendExceedsThreshold reports whether today's spend has crossed
// the escalation fraction of the daily cap.
func (g *Gateway) dailySpendExceedsThreshold(ctx context.Context) bool {
	if g.opts.DailyBudgetUSD == 0 {
		return false
	}
	spend, err := g.SpendToday(ctx)
	if err != nil {
		log.Printf("gateway: failed to query daily spend: %v", err)
		return false
	}
	return spend > g.opts.DailyBudgetUSD*g.opts.EscalationRatio
}
