package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tradewind/tradewind/internal/domain"
)

func decision(action domain.Action, mag float64) *domain.Decision {
	return &domain.Decision{
		AssetID:   "btc",
		CycleTS:   time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		Action:    action,
		Magnitude: mag,
		Rationale: "model says so",
		Source:    domain.SourceDecisionService,
	}
}

func snapshot(base, quote, price float64) *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		AssetID:      "btc",
		Pair:         "BTC-USDT",
		Price:        price,
		BaseBalance:  base,
		QuoteBalance: quote,
	}
}

var limits = Limits{MaxPositionFraction: 0.5, MinNotional: 10}

func TestApply_HoldPassesThrough(t *testing.T) {
	d := decision(domain.ActionHold, 0)
	out := Apply(d, snapshot(0, 1000, 50000), limits)
	assert.Same(t, d, out)
}

func TestApply_BuyWithinLimitsUntouched(t *testing.T) {
	// 0 BTC held, 10000 USDT: a 30% buy (3000) is well under the 50% cap.
	d := decision(domain.ActionBuy, 0.3)
	out := Apply(d, snapshot(0, 10000, 50000), limits)

	assert.Same(t, d, out)
	assert.Equal(t, domain.SourceDecisionService, out.Source)
}

func TestApply_BuyResizedToPositionCap(t *testing.T) {
	// 0 BTC held, 10000 USDT, 50% cap: headroom is 5000, so a 80% buy
	// (8000) must shrink to 5000.
	d := decision(domain.ActionBuy, 0.8)
	out := Apply(d, snapshot(0, 10000, 50000), limits)

	assert.NotSame(t, d, out)
	assert.Equal(t, domain.ActionBuy, out.Action)
	assert.InDelta(t, 0.5, out.Magnitude, 1e-9)
	assert.Equal(t, domain.SourceRiskGate, out.Source)
	assert.Contains(t, out.Rationale, "risk-gate:")
	assert.Equal(t, "model says so", out.PriorRationale)
	assert.Equal(t, domain.ActionBuy, d.Action, "input decision must not be mutated")
	assert.InDelta(t, 0.8, d.Magnitude, 1e-9)
}

func TestApply_BuyAtCapDowngradedToHold(t *testing.T) {
	// 0.1 BTC at 50000 = 5000 held vs 5000 quote: the position is already
	// at half the portfolio.
	d := decision(domain.ActionBuy, 0.5)
	out := Apply(d, snapshot(0.1, 5000, 50000), limits)

	assert.Equal(t, domain.ActionHold, out.Action)
	assert.Zero(t, out.Magnitude)
	assert.Equal(t, domain.SourceRiskGate, out.Source)
	assert.Contains(t, out.Rationale, "cap")
}

func TestApply_BuyBelowMinNotionalDowngraded(t *testing.T) {
	d := decision(domain.ActionBuy, 0.01)
	out := Apply(d, snapshot(0, 100, 50000), limits) // 1 USDT < 10 minimum

	assert.Equal(t, domain.ActionHold, out.Action)
	assert.Contains(t, out.Rationale, "below minimum")
	assert.Equal(t, "model says so", out.PriorRationale)
}

func TestApply_BuyWithNoQuoteBalance(t *testing.T) {
	d := decision(domain.ActionBuy, 0.5)
	out := Apply(d, snapshot(1, 0, 50000), limits)

	assert.Equal(t, domain.ActionHold, out.Action)
	assert.Equal(t, domain.SourceRiskGate, out.Source)
}

func TestApply_SellWithinHoldingsUntouched(t *testing.T) {
	d := decision(domain.ActionSell, 0.5)
	out := Apply(d, snapshot(1, 0, 50000), limits)
	assert.Same(t, d, out)
}

func TestApply_SellWithNoHoldingsDowngraded(t *testing.T) {
	d := decision(domain.ActionSell, 0.5)
	out := Apply(d, snapshot(0, 10000, 50000), limits)

	assert.Equal(t, domain.ActionHold, out.Action)
	assert.Zero(t, out.Magnitude)
	assert.Contains(t, out.Rationale, "no holdings")
	assert.Equal(t, "model says so", out.PriorRationale)
}

func TestApply_SellMagnitudeClampedToOne(t *testing.T) {
	d := decision(domain.ActionSell, 1.5)
	out := Apply(d, snapshot(1, 0, 50000), limits)

	assert.Equal(t, domain.ActionSell, out.Action)
	assert.InDelta(t, 1.0, out.Magnitude, 1e-9)
	assert.Equal(t, domain.SourceRiskGate, out.Source)
}

func TestApply_SellBelowMinNotionalDowngraded(t *testing.T) {
	// 0.0001 BTC at 50000 is 5 USDT, under the 10 minimum.
	d := decision(domain.ActionSell, 1)
	out := Apply(d, snapshot(0.0001, 0, 50000), limits)

	assert.Equal(t, domain.ActionHold, out.Action)
	assert.Contains(t, out.Rationale, "below minimum")
}

func TestApply_IsDeterministic(t *testing.T) {
	d := decision(domain.ActionBuy, 0.8)
	snap := snapshot(0, 10000, 50000)

	first := Apply(d, snap, limits)
	second := Apply(d, snap, limits)
	assert.Equal(t, first, second)
}
