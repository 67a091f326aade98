package gate

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tradewind/tradewind/internal/domain"
)

// Limits are the per-asset risk bounds the gate enforces.
type Limits struct {
	// MaxPositionFraction caps the asset's value at this fraction of total
	// portfolio value after a buy.
	MaxPositionFraction float64

	// MinNotional is the exchange's minimum order value in quote currency.
	// Orders that would fall below it are downgraded to HOLD.
	MinNotional float64
}

// Apply checks a decision against holdings and limits. It is pure: given the
// same inputs it always returns the same output, and it never touches the
// network. A downgraded or resized decision carries the risk-gate source and
// preserves the original rationale.
func Apply(d *domain.Decision, snap *domain.MarketSnapshot, limits Limits) *domain.Decision {
	if d.Action == domain.ActionHold {
		return d
	}

	switch d.Action {
	case domain.ActionSell:
		return applySell(d, snap, limits)
	case domain.ActionBuy:
		return applyBuy(d, snap, limits)
	default:
		return override(d, domain.ActionHold, 0, fmt.Sprintf("unknown action %q", d.Action))
	}
}

func applySell(d *domain.Decision, snap *domain.MarketSnapshot, limits Limits) *domain.Decision {
	if snap.BaseBalance <= 0 {
		return override(d, domain.ActionHold, 0, "no holdings to sell")
	}

	mag := d.Magnitude
	if mag > 1 {
		mag = 1
	}

	notional := snap.BaseBalance * mag * snap.Price
	if notional < limits.MinNotional {
		return override(d, domain.ActionHold, 0,
			fmt.Sprintf("sell notional %.2f below minimum %.2f", notional, limits.MinNotional))
	}

	if mag != d.Magnitude {
		return override(d, domain.ActionSell, mag, "sell resized to full holdings")
	}
	return d
}

func applyBuy(d *domain.Decision, snap *domain.MarketSnapshot, limits Limits) *domain.Decision {
	if snap.QuoteBalance <= 0 {
		return override(d, domain.ActionHold, 0, "no quote balance to buy with")
	}

	mag := d.Magnitude
	if mag > 1 {
		mag = 1
	}
	spend := snap.QuoteBalance * mag

	// Cap the position at its configured share of portfolio value.
	total := snap.TotalValue()
	headroom := limits.MaxPositionFraction*total - snap.BaseBalance*snap.Price
	if headroom <= 0 {
		return override(d, domain.ActionHold, 0,
			fmt.Sprintf("position already at %.0f%% cap", limits.MaxPositionFraction*100))
	}
	if spend > headroom {
		spend = headroom
		mag = spend / snap.QuoteBalance
	}

	if spend < limits.MinNotional {
		return override(d, domain.ActionHold, 0,
			fmt.Sprintf("buy notional %.2f below minimum %.2f", spend, limits.MinNotional))
	}

	if mag != d.Magnitude {
		return override(d, domain.ActionBuy, mag,
			fmt.Sprintf("buy resized to stay within %.0f%% position cap", limits.MaxPositionFraction*100))
	}
	return d
}

// override produces a new decision with the gate's verdict; the model's own
// reasoning survives in PriorRationale.
func override(d *domain.Decision, action domain.Action, mag float64, reason string) *domain.Decision {
	out := *d
	out.Action = action
	out.Magnitude = mag
	out.Rationale = "risk-gate: " + reason
	out.PriorRationale = d.Rationale
	out.Source = domain.SourceRiskGate

	log.Info().Str("asset", d.AssetID).Str("from", string(d.Action)).Str("to", string(action)).
		Str("reason", reason).Msg("risk gate overrode decision")
	return &out
}
