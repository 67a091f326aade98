package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewind/tradewind/internal/config"
	"github.com/tradewind/tradewind/internal/domain"
	"github.com/tradewind/tradewind/internal/retry"
)

type fakeMarket struct {
	mu       sync.Mutex
	snap     *domain.MarketSnapshot
	errs     []error
	calls    int
	onCalled func()
}

func (f *fakeMarket) Snapshot(context.Context, config.AssetConfig) (*domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onCalled != nil {
		f.onCalled()
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.snap, nil
}

type fakeDecision struct {
	dec *domain.Decision
	err error
}

func (f *fakeDecision) Decide(_ context.Context, cycleTS time.Time, snap *domain.MarketSnapshot) (*domain.Decision, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := *f.dec
	d.AssetID = snap.AssetID
	d.CycleTS = cycleTS
	return &d, nil
}

type fakeExecutor struct {
	result *domain.ExecutionResult
	errs   []error
	calls  int
	last   *domain.Decision
}

func (f *fakeExecutor) Execute(_ context.Context, d *domain.Decision, _ *domain.MarketSnapshot) (*domain.ExecutionResult, error) {
	f.calls++
	f.last = d
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.result, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	records []domain.LedgerRecord
	err     error
}

func (f *fakeLedger) Upsert(_ context.Context, rec domain.LedgerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeLedger) all() []domain.LedgerRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LedgerRecord(nil), f.records...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeNotifier) Publish(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, text)
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

func testAsset() config.AssetConfig {
	return config.AssetConfig{
		ID:                  "btc",
		Name:                "Bitcoin",
		Pair:                "BTC-USDT",
		Interval:            config.Duration(time.Hour),
		MaxPositionFraction: 0.5,
		MinNotional:         10,
		Enabled:             true,
	}
}

func testSnapshot() *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		AssetID:      "btc",
		Pair:         "BTC-USDT",
		Price:        50000,
		QuoteBalance: 10000,
	}
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
		StepTimeout: time.Second,
	}
}

func buyDecision() *domain.Decision {
	return &domain.Decision{
		Action:    domain.ActionBuy,
		Magnitude: 0.3,
		Rationale: "breakout",
		Source:    domain.SourceDecisionService,
	}
}

func TestRunCycle_HappyPath(t *testing.T) {
	market := &fakeMarket{snap: testSnapshot()}
	exec := &fakeExecutor{result: &domain.ExecutionResult{Status: domain.StatusExecuted, FilledAmount: 0.06, AvgPrice: 50000}}
	led := &fakeLedger{}
	notif := &fakeNotifier{}

	s := New(testAsset(), fastPolicy(), Deps{
		Market:   market,
		Decision: &fakeDecision{dec: buyDecision()},
		Executor: exec,
		Ledger:   led,
		Notifier: notif,
	})

	cycleTS := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.RunCycle(context.Background(), cycleTS)

	records := led.all()
	require.Len(t, records, 1)
	assert.Equal(t, "btc", records[0].AssetID)
	assert.Equal(t, cycleTS, records[0].CycleTS)
	assert.Equal(t, domain.ActionBuy, records[0].Decision.Action)
	assert.Equal(t, domain.StatusExecuted, records[0].Result.Status)
	assert.Equal(t, StateIdle, s.State())
	require.Len(t, notif.all(), 1)
	assert.Contains(t, notif.all()[0], "EXECUTED")
}

func TestRunCycle_TransientFetchErrorsAreRetried(t *testing.T) {
	transient := retry.Transient(errors.New("exchange timeout"))
	market := &fakeMarket{snap: testSnapshot(), errs: []error{transient, transient}}
	led := &fakeLedger{}

	s := New(testAsset(), fastPolicy(), Deps{
		Market:   market,
		Decision: &fakeDecision{dec: buyDecision()},
		Executor: &fakeExecutor{result: &domain.ExecutionResult{Status: domain.StatusExecuted, FilledAmount: 1}},
		Ledger:   led,
	})
	s.RunCycle(context.Background(), time.Now().UTC())

	assert.Equal(t, 3, market.calls, "two transient failures then success")
	records := led.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusExecuted, records[0].Result.Status)
}

func TestRunCycle_ExhaustedRetriesProduceFailedRecord(t *testing.T) {
	transient := retry.Transient(errors.New("exchange down"))
	market := &fakeMarket{snap: testSnapshot(), errs: []error{transient, transient, transient}}
	led := &fakeLedger{}
	notif := &fakeNotifier{}

	s := New(testAsset(), fastPolicy(), Deps{
		Market:   market,
		Decision: &fakeDecision{dec: buyDecision()},
		Executor: &fakeExecutor{},
		Ledger:   led,
		Notifier: notif,
	})
	s.RunCycle(context.Background(), time.Now().UTC())

	records := led.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.ActionHold, records[0].Decision.Action)
	assert.Equal(t, domain.StatusFailed, records[0].Result.Status)
	assert.Contains(t, records[0].Decision.Rationale, "fetch")
	assert.Contains(t, records[0].Result.Error, "retries exhausted")
	require.Len(t, notif.all(), 1)
}

func TestRunCycle_NonTransientDecideErrorFailsImmediately(t *testing.T) {
	led := &fakeLedger{}
	exec := &fakeExecutor{}

	s := New(testAsset(), fastPolicy(), Deps{
		Market:   &fakeMarket{snap: testSnapshot()},
		Decision: &fakeDecision{err: errors.New("invalid api key")},
		Executor: exec,
		Ledger:   led,
	})
	s.RunCycle(context.Background(), time.Now().UTC())

	records := led.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusFailed, records[0].Result.Status)
	assert.Contains(t, records[0].Decision.Rationale, "decide")
	assert.Zero(t, exec.calls, "execution must not run after a failed decide")
}

func TestRunCycle_GateOverrideReachesLedger(t *testing.T) {
	// Selling with zero holdings: the gate downgrades to HOLD and the
	// executor skips.
	led := &fakeLedger{}
	exec := &fakeExecutor{result: &domain.ExecutionResult{Status: domain.StatusSkipped}}
	sell := &domain.Decision{Action: domain.ActionSell, Magnitude: 0.5, Rationale: "take profit", Source: domain.SourceDecisionService}

	s := New(testAsset(), fastPolicy(), Deps{
		Market:   &fakeMarket{snap: testSnapshot()}, // BaseBalance 0
		Decision: &fakeDecision{dec: sell},
		Executor: exec,
		Ledger:   led,
	})
	s.RunCycle(context.Background(), time.Now().UTC())

	require.NotNil(t, exec.last)
	assert.Equal(t, domain.ActionHold, exec.last.Action)
	assert.Equal(t, domain.SourceRiskGate, exec.last.Source)

	records := led.all()
	require.Len(t, records, 1)
	assert.Equal(t, "take profit", records[0].Decision.PriorRationale)
	assert.Equal(t, domain.StatusSkipped, records[0].Result.Status)
}

func TestRunCycle_ShutdownBetweenStepsAbandonsCycle(t *testing.T) {
	stop, cancel := context.WithCancel(context.Background())
	// Shutdown arrives while the fetch step is in flight; the cycle must
	// stop at the next step boundary without deciding or executing.
	market := &fakeMarket{snap: testSnapshot(), onCalled: cancel}
	exec := &fakeExecutor{}
	led := &fakeLedger{}

	s := New(testAsset(), fastPolicy(), Deps{
		Market:   market,
		Decision: &fakeDecision{dec: buyDecision()},
		Executor: exec,
		Ledger:   led,
	})
	s.RunCycle(stop, time.Now().UTC())

	assert.Equal(t, 1, market.calls, "in-flight fetch runs to completion")
	assert.Zero(t, exec.calls)
	assert.Empty(t, led.all())
}

func TestRunCycle_TransientExecutionErrorRetriedThenExecuted(t *testing.T) {
	exec := &fakeExecutor{
		result: &domain.ExecutionResult{Status: domain.StatusExecuted, FilledAmount: 1},
		errs:   []error{retry.Transient(errors.New("gateway timeout")), retry.Transient(errors.New("gateway timeout"))},
	}
	led := &fakeLedger{}

	s := New(testAsset(), fastPolicy(), Deps{
		Market:   &fakeMarket{snap: testSnapshot()},
		Decision: &fakeDecision{dec: buyDecision()},
		Executor: exec,
		Ledger:   led,
	})
	s.RunCycle(context.Background(), time.Now().UTC())

	assert.Equal(t, 3, exec.calls)
	records := led.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusExecuted, records[0].Result.Status)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	asset := testAsset()
	asset.Interval = config.Duration(10 * time.Millisecond)
	led := &fakeLedger{}

	s := New(asset, fastPolicy(), Deps{
		Market:   &fakeMarket{snap: testSnapshot()},
		Decision: &fakeDecision{dec: &domain.Decision{Action: domain.ActionHold}},
		Executor: &fakeExecutor{result: &domain.ExecutionResult{Status: domain.StatusSkipped}},
		Ledger:   led,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	// First cycle fires immediately, then roughly every interval.
	assert.GreaterOrEqual(t, len(led.all()), 2)
}
