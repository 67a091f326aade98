package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradewind/tradewind/internal/config"
	"github.com/tradewind/tradewind/internal/decision"
	"github.com/tradewind/tradewind/internal/domain"
	"github.com/tradewind/tradewind/internal/gate"
	"github.com/tradewind/tradewind/internal/ledger"
	"github.com/tradewind/tradewind/internal/metrics"
	"github.com/tradewind/tradewind/internal/notify"
	"github.com/tradewind/tradewind/internal/retry"
)

// State is the scheduler's position in the cycle state machine, exposed for
// the dashboard API.
type State string

const (
	StateIdle       State = "IDLE"
	StateFetching   State = "FETCHING"
	StateDeciding   State = "DECIDING"
	StateGating     State = "GATING"
	StateExecuting  State = "EXECUTING"
	StatePersisting State = "PERSISTING"
)

// SnapshotSource assembles market state for one cycle.
type SnapshotSource interface {
	Snapshot(ctx context.Context, asset config.AssetConfig) (*domain.MarketSnapshot, error)
}

// OrderExecutor turns a gated decision into exchange orders.
type OrderExecutor interface {
	Execute(ctx context.Context, d *domain.Decision, snap *domain.MarketSnapshot) (*domain.ExecutionResult, error)
}

// Publisher accepts fire-and-forget notifications.
type Publisher interface {
	Publish(text string)
}

// Deps are the collaborators one asset scheduler drives.
type Deps struct {
	Market   SnapshotSource
	Decision decision.Service
	Executor OrderExecutor
	Ledger   ledger.Writer
	Notifier Publisher
	Metrics  *metrics.Registry
}

// AssetScheduler runs the fetch-decide-gate-execute-persist cycle for a
// single asset on its configured interval. Each asset gets its own
// scheduler; they never share mutable state.
type AssetScheduler struct {
	asset  config.AssetConfig
	policy retry.Policy
	deps   Deps

	mu    sync.RWMutex
	state State
}

func New(asset config.AssetConfig, policy retry.Policy, deps Deps) *AssetScheduler {
	s := &AssetScheduler{
		asset: asset,
		deps:  deps,
		state: StateIdle,
	}
	s.policy = policy
	if deps.Metrics != nil {
		s.policy.OnRetry = func(step string) { deps.Metrics.RecordRetry(asset.ID, step) }
	}
	return s
}

// State returns the scheduler's current position in the cycle.
func (s *AssetScheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *AssetScheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run executes cycles until stop is cancelled: one immediately, then one per
// interval. A cancelled stop context is honored between steps, never in the
// middle of one; an in-flight order placement always runs to completion.
func (s *AssetScheduler) Run(stop context.Context) {
	log.Info().Str("asset", s.asset.ID).Dur("interval", s.asset.Interval.Std()).Msg("asset scheduler started")
	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveSchedulers.Inc()
		defer s.deps.Metrics.ActiveSchedulers.Dec()
	}
	defer log.Info().Str("asset", s.asset.ID).Msg("asset scheduler stopped")

	ticker := time.NewTicker(s.asset.Interval.Std())
	defer ticker.Stop()

	s.RunCycle(stop, time.Now().UTC())
	for {
		select {
		case <-stop.Done():
			return
		case now := <-ticker.C:
			s.RunCycle(stop, now.UTC())
		}
	}
}

// RunCycle executes exactly one cycle stamped with cycleTS. Exposed so the
// orchestrator's tests and manual single-shot runs can drive cycles
// directly.
func (s *AssetScheduler) RunCycle(stop context.Context, cycleTS time.Time) {
	defer s.setState(StateIdle)

	// Step contexts are deliberately detached from stop: a shutdown request
	// lets the current step finish and is only honored at step boundaries.
	steps := context.Background()

	logger := log.With().Str("asset", s.asset.ID).Time("cycle_ts", cycleTS).Logger()
	logger.Info().Msg("cycle started")

	if stop.Err() != nil {
		return
	}

	s.setState(StateFetching)
	var snap *domain.MarketSnapshot
	err := s.timedStep("fetch", func() error {
		return retry.Do(steps, s.policy, "fetch", func(ctx context.Context) error {
			var err error
			snap, err = s.deps.Market.Snapshot(ctx, s.asset)
			return err
		})
	})
	if err != nil {
		s.failCycle(steps, cycleTS, "fetch", nil, err)
		return
	}

	if stop.Err() != nil {
		logger.Info().Msg("shutdown requested, abandoning cycle before decide")
		return
	}

	s.setState(StateDeciding)
	var dec *domain.Decision
	err = s.timedStep("decide", func() error {
		return retry.Do(steps, s.policy, "decide", func(ctx context.Context) error {
			var err error
			dec, err = s.deps.Decision.Decide(ctx, cycleTS, snap)
			return err
		})
	})
	if err != nil {
		s.failCycle(steps, cycleTS, "decide", snap, err)
		return
	}

	if stop.Err() != nil {
		logger.Info().Msg("shutdown requested, abandoning cycle before gate")
		return
	}

	// The gate is pure and cannot fail; no retry wrapper needed.
	s.setState(StateGating)
	gated := gate.Apply(dec, snap, gate.Limits{
		MaxPositionFraction: s.asset.MaxPositionFraction,
		MinNotional:         s.asset.MinNotional,
	})

	if stop.Err() != nil {
		logger.Info().Msg("shutdown requested, abandoning cycle before execute")
		return
	}

	s.setState(StateExecuting)
	var result *domain.ExecutionResult
	err = s.timedStep("execute", func() error {
		return retry.Do(steps, s.policy, "execute", func(ctx context.Context) error {
			var err error
			result, err = s.deps.Executor.Execute(ctx, gated, snap)
			return err
		})
	})
	if err != nil {
		s.failCycle(steps, cycleTS, "execute", snap, err)
		return
	}

	// Once the exchange may have moved money there is no abandoning: the
	// record is written even when shutdown is already requested.
	rec := domain.LedgerRecord{
		AssetID:   s.asset.ID,
		CycleTS:   cycleTS,
		Decision:  *gated,
		Result:    *result,
		CreatedAt: time.Now().UTC(),
	}
	s.persistAndNotify(steps, rec, snap)
}

// timedStep runs fn under a metrics timer.
func (s *AssetScheduler) timedStep(step string, fn func() error) error {
	if s.deps.Metrics == nil {
		return fn()
	}
	timer := s.deps.Metrics.StartStep(s.asset.ID, step)
	defer timer.Stop()
	return fn()
}

// failCycle records a cycle that died in the named step. The ledger still
// gets exactly one record: a HOLD whose result carries the failure.
func (s *AssetScheduler) failCycle(ctx context.Context, cycleTS time.Time, step string, snap *domain.MarketSnapshot, cause error) {
	log.Error().Str("asset", s.asset.ID).Str("step", step).Err(cause).Msg("cycle failed")
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordStepFailure(s.asset.ID, step)
	}

	rec := domain.LedgerRecord{
		AssetID: s.asset.ID,
		CycleTS: cycleTS,
		Decision: domain.Decision{
			AssetID:   s.asset.ID,
			CycleTS:   cycleTS,
			Action:    domain.ActionHold,
			Rationale: fmt.Sprintf("cycle failed in %s step", step),
			Source:    domain.SourceRiskGate,
		},
		Result: domain.ExecutionResult{
			Status: domain.StatusFailed,
			Error:  cause.Error(),
		},
		CreatedAt: time.Now().UTC(),
	}
	s.persistAndNotify(ctx, rec, snap)
}

func (s *AssetScheduler) persistAndNotify(ctx context.Context, rec domain.LedgerRecord, snap *domain.MarketSnapshot) {
	s.setState(StatePersisting)

	err := s.timedStep("persist", func() error {
		return retry.Do(ctx, s.policy, "persist", func(ctx context.Context) error {
			return s.deps.Ledger.Upsert(ctx, rec)
		})
	})
	if err != nil {
		// The trade (if any) already happened; all that is lost is the
		// record of it. Loudly is the best this process can do.
		log.Error().Str("asset", s.asset.ID).Time("cycle_ts", rec.CycleTS).Err(err).
			Msg("failed to persist ledger record, cycle outcome lost")
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordStepFailure(s.asset.ID, "persist")
		}
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCycle(s.asset.ID, rec.Result.Status)
	}
	if s.deps.Notifier != nil {
		s.deps.Notifier.Publish(notify.FormatCycle(rec, snap))
	}

	log.Info().Str("asset", s.asset.ID).Time("cycle_ts", rec.CycleTS).
		Str("action", string(rec.Decision.Action)).Str("status", string(rec.Result.Status)).
		Msg("cycle completed")
}
