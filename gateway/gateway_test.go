package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pravindurgani/agent-sutra/llm"
	"github.com/pravindurgani/agent-sutra/providers/anthropic"
	"github.com/pravindurgani/agent-sutra/store"
	"github.com/pravindurgani/agent-sutra/types"
)

type fakeProvider struct {
	mu        sync.Mutex
	name      string
	responses []llm.Response
	errs      []error
	calls     int
	models    []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.models = append(f.models, req.Model)
	var resp llm.Response
	var err error
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

type fakeLocal struct {
	fakeProvider
	healthy bool
}

func (f *fakeLocal) Healthy(context.Context) bool { return f.healthy }

type fakeLedger struct {
	mu      sync.Mutex
	records []types.UsageRecord
	usage   []store.ModelUsage
}

func (f *fakeLedger) RecordUsage(_ context.Context, rec types.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeLedger) UsageSince(context.Context, float64) ([]store.ModelUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage, nil
}

func newTestGateway(remote llm.Provider, local LocalProvider, ledger Ledger, opts Options) *Gateway {
	g := New(remote, local, ledger, opts, func() (float64, error) { return 50, nil })
	g.sleep = func(time.Duration) {}
	return g
}

func baseOptions() Options {
	return Options{
		DefaultModel:      "claude-sonnet-4-6",
		ComplexModel:      "claude-opus-4-6",
		LocalDefaultModel: "llama3.1:8b",
		MaxRetries:        3,
	}
}

func TestEmptyResponseRetriedOnce(t *testing.T) {
	remote := &fakeProvider{
		name: "anthropic",
		responses: []llm.Response{
			{Model: "claude-sonnet-4-6"},
			{Model: "claude-sonnet-4-6", Text: "real answer", Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}},
		},
		errs: []error{llm.ErrEmptyResponse, nil},
	}
	g := newTestGateway(remote, nil, &fakeLedger{}, baseOptions())

	text, err := g.Call(context.Background(), Request{Purpose: PurposeCodeGen, Prompt: "x"})
	if err != nil {
		t.Fatalf("expected success after one retry, got %v", err)
	}
	if text != "real answer" {
		t.Errorf("text = %q", text)
	}
	if remote.calls != 2 {
		t.Errorf("calls = %d, want exactly 2 (one retry)", remote.calls)
	}
}

func TestRetryableStatusErrors(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{&anthropic.StatusError{StatusCode: 429}, true},
		{&anthropic.StatusError{StatusCode: 408}, true},
		{&anthropic.StatusError{StatusCode: 500}, true},
		{&anthropic.StatusError{StatusCode: 529}, true},
		{&anthropic.StatusError{StatusCode: 400}, false},
		{&anthropic.StatusError{StatusCode: 401}, false},
		{llm.ErrEmptyResponse, true},
		{errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.retryable {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
		}
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	remote := &fakeProvider{
		name: "anthropic",
		errs: []error{&anthropic.StatusError{StatusCode: 401, Body: "bad key"}},
	}
	g := newTestGateway(remote, nil, &fakeLedger{}, baseOptions())

	_, err := g.Call(context.Background(), Request{Purpose: PurposeCodeGen, Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if remote.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent error)", remote.calls)
	}
}

func TestAuditAlwaysRoutesRemoteComplexModel(t *testing.T) {
	// Even with a healthy local model and the budget threshold crossed,
	// audit stays on the remote high-capability model.
	ledger := &fakeLedger{usage: []store.ModelUsage{
		{Model: "claude-sonnet-4-6", InputTokens: 2_000_000, OutputTokens: 400_000},
	}}
	remote := &fakeProvider{name: "anthropic", responses: []llm.Response{{Model: "claude-opus-4-6", Text: "verdict"}}}
	local := &fakeLocal{healthy: true}
	opts := baseOptions()
	opts.DailyBudgetUSD = 15

	g := newTestGateway(remote, local, ledger, opts)
	r := g.selectRoute(context.Background(), PurposeAudit, ComplexityLow)
	if r.provider != "remote" || r.model != "claude-opus-4-6" {
		t.Fatalf("audit routed to %s/%s, must be remote/claude-opus-4-6", r.provider, r.model)
	}
	if local.calls != 0 {
		t.Errorf("local model must never see audit traffic")
	}
}

func TestBudgetEscalationRoutesClassifyLocal(t *testing.T) {
	// Today's spend above 70% of the daily cap pushes low-tier purposes
	// to the local model.
	ledger := &fakeLedger{usage: []store.ModelUsage{
		// 2M input + 400k output on sonnet ≈ $12, over 70% of $15.
		{Model: "claude-sonnet-4-6", InputTokens: 2_000_000, OutputTokens: 400_000},
	}}
	local := &fakeLocal{healthy: true}
	opts := baseOptions()
	opts.DailyBudgetUSD = 15
	opts.EscalationRatio = 0.7

	g := newTestGateway(&fakeProvider{name: "anthropic"}, local, ledger, opts)
	r := g.selectRoute(context.Background(), PurposeClassify, ComplexityLow)
	if r.provider != "local" {
		t.Fatalf("classify routed to %s, want local under budget escalation", r.provider)
	}
}

func TestLowComplexityClassifyPrefersLocalWhenHealthy(t *testing.T) {
	local := &fakeLocal{healthy: true}
	g := newTestGateway(&fakeProvider{name: "anthropic"}, local, &fakeLedger{}, baseOptions())

	r := g.selectRoute(context.Background(), PurposeClassify, ComplexityLow)
	if r.provider != "local" {
		t.Errorf("low-complexity classify routed to %s, want local", r.provider)
	}

	// High complexity stays remote.
	r = g.selectRoute(context.Background(), PurposePlan, ComplexityHigh)
	if r.provider != "remote" {
		t.Errorf("high-complexity plan routed to %s, want remote", r.provider)
	}
}

func TestLocalRouteSkippedUnderMemoryPressure(t *testing.T) {
	local := &fakeLocal{healthy: true}
	g := New(&fakeProvider{name: "anthropic"}, local, &fakeLedger{}, baseOptions(),
		func() (float64, error) { return 90, nil })
	g.sleep = func(time.Duration) {}

	r := g.selectRoute(context.Background(), PurposeClassify, ComplexityLow)
	if r.provider != "remote" {
		t.Errorf("classify routed to %s at 90%% RAM, want remote", r.provider)
	}
}

func TestLocalFailureFallsBackToRemote(t *testing.T) {
	local := &fakeLocal{healthy: true}
	local.errs = []error{llm.ErrEmptyResponse}
	remote := &fakeProvider{name: "anthropic", responses: []llm.Response{{Model: "claude-sonnet-4-6", Text: "remote answer"}}}

	g := newTestGateway(remote, local, &fakeLedger{}, baseOptions())
	text, err := g.Call(context.Background(), Request{Purpose: PurposeClassify, Complexity: ComplexityLow, Prompt: "x"})
	if err != nil {
		t.Fatalf("expected transparent fallback, got %v", err)
	}
	if text != "remote answer" {
		t.Errorf("text = %q", text)
	}
	if local.calls != 1 || remote.calls != 1 {
		t.Errorf("calls local=%d remote=%d, want 1 and 1", local.calls, remote.calls)
	}
}

func TestBudgetExceededRefusesRemoteCall(t *testing.T) {
	ledger := &fakeLedger{usage: []store.ModelUsage{
		{Model: "claude-opus-4-6", InputTokens: 1_000_000, OutputTokens: 200_000},
	}}
	remote := &fakeProvider{name: "anthropic"}
	opts := baseOptions()
	opts.DailyBudgetUSD = 5 // far below the ~$30 already spent

	g := newTestGateway(remote, nil, ledger, opts)
	_, err := g.Call(context.Background(), Request{Purpose: PurposeCodeGen, Prompt: "x"})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
	if remote.calls != 0 {
		t.Errorf("remote must not be called once the budget is exhausted")
	}
}

func TestUsagePersistedWithThinkingTokens(t *testing.T) {
	ledger := &fakeLedger{}
	remote := &fakeProvider{name: "anthropic", responses: []llm.Response{{
		Model: "claude-sonnet-4-6",
		Text:  "ok",
		Usage: llm.Usage{InputTokens: 100, OutputTokens: 50, ThinkingTokens: 30},
	}}}
	g := newTestGateway(remote, nil, ledger, baseOptions())

	if _, err := g.Call(context.Background(), Request{Purpose: PurposeCodeGen, Prompt: "x"}); err != nil {
		t.Fatal(err)
	}
	if len(ledger.records) != 1 {
		t.Fatalf("records = %d, want 1", len(ledger.records))
	}
	rec := ledger.records[0]
	if rec.ThinkingTokens != 30 {
		t.Errorf("thinking tokens = %d, want 30", rec.ThinkingTokens)
	}
	if rec.Timestamp == 0 {
		t.Errorf("timestamp must be a numeric epoch, got zero")
	}
}

func TestCostOfPricesThinkingAsOutput(t *testing.T) {
	usage := []store.ModelUsage{{
		Model:          "claude-sonnet-4-6",
		InputTokens:    1_000_000,
		OutputTokens:   100_000,
		ThinkingTokens: 100_000,
	}}
	// 1M in * $3 + 200k (out+thinking) * $15 = 3 + 3 = $6
	if got := costOf(usage); got < 5.99 || got > 6.01 {
		t.Errorf("costOf = %f, want 6.0", got)
	}
}

func TestBudgetWindowsUseUTCBoundaries(t *testing.T) {
	now := time.Date(2026, 8, 6, 23, 30, 0, 0, time.UTC)
	day := startOfDayUTC(now)
	if day.Hour() != 0 || day.Day() != 6 {
		t.Errorf("startOfDayUTC = %v", day)
	}
	month := startOfMonthUTC(now)
	if month.Day() != 1 || month.Month() != time.August {
		t.Errorf("startOfMonthUTC = %v", month)
	}
	if !strings.HasSuffix(day.Location().String(), "UTC") {
		t.Errorf("boundary not in UTC: %v", day.Location())
	}
}
