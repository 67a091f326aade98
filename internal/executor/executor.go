package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradewind/tradewind/internal/domain"
	"github.com/tradewind/tradewind/internal/exchange"
	"github.com/tradewind/tradewind/internal/retry"
)

const defaultPollInterval = time.Second

// Executor turns gated decisions into exchange orders and reports what
// actually happened. An order the exchange rejects is a terminal outcome
// (FAILED result, nil error); only infrastructure failures surface as
// errors for the caller to retry.
type Executor struct {
	exchange exchange.Client

	// feeBuffer shaves buy spend so the order plus trading fee never
	// exceeds the available quote balance.
	feeBuffer    float64
	fillTimeout  time.Duration
	pollInterval time.Duration
}

func New(ex exchange.Client, feeBuffer float64, fillTimeout time.Duration) *Executor {
	return &Executor{
		exchange:     ex,
		feeBuffer:    feeBuffer,
		fillTimeout:  fillTimeout,
		pollInterval: defaultPollInterval,
	}
}

// Execute places the order a decision calls for and waits for it to fill.
func (e *Executor) Execute(ctx context.Context, d *domain.Decision, snap *domain.MarketSnapshot) (*domain.ExecutionResult, error) {
	if d.Action == domain.ActionHold {
		return &domain.ExecutionResult{Status: domain.StatusSkipped}, nil
	}

	var side exchange.OrderSide
	var amount float64
	switch d.Action {
	case domain.ActionBuy:
		side = exchange.SideBuy
		amount = snap.QuoteBalance * e.feeBuffer * d.Magnitude
	case domain.ActionSell:
		side = exchange.SideSell
		amount = snap.BaseBalance * d.Magnitude
	default:
		return nil, fmt.Errorf("unexecutable action %q", d.Action)
	}

	if amount <= 0 {
		return &domain.ExecutionResult{
			Status: domain.StatusSkipped,
			Error:  fmt.Sprintf("computed %s amount is zero", side),
		}, nil
	}

	order, err := e.exchange.PlaceOrder(ctx, snap.Pair, side, amount)
	if err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) && !retry.IsTransient(err) {
			// The exchange looked at the order and said no. Retrying the same
			// order would not change its mind; record the refusal verbatim.
			log.Warn().Str("asset", d.AssetID).Str("pair", snap.Pair).Str("side", string(side)).
				Int("status", apiErr.StatusCode).Msg("exchange rejected order")
			return &domain.ExecutionResult{
				Status: domain.StatusFailed,
				Error:  apiErr.Error(),
			}, nil
		}
		return nil, fmt.Errorf("placing %s order for %s: %w", side, snap.Pair, err)
	}

	result := e.awaitFill(ctx, order)
	log.Info().Str("asset", d.AssetID).Str("pair", snap.Pair).Str("side", string(side)).
		Str("status", string(result.Status)).Float64("filled", result.FilledAmount).
		Float64("avg_price", result.AvgPrice).Msg("order settled")
	return result, nil
}

// awaitFill polls the order until it completes or the fill timeout lapses.
// Once an order exists on the exchange the outcome is always a result, never
// an error: the money already moved or is about to.
func (e *Executor) awaitFill(ctx context.Context, order *exchange.OrderResult) *domain.ExecutionResult {
	last := order
	deadline := time.NewTimer(e.fillTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(e.pollInterval)
	defer tick.Stop()

	for !last.Done {
		select {
		case <-tick.C:
			current, err := e.exchange.Order(ctx, last.OrderID)
			if err != nil {
				log.Warn().Err(err).Str("order_id", last.OrderID).Msg("order status poll failed")
				continue
			}
			last = current
		case <-deadline.C:
			return e.settle(last, fmt.Sprintf("order %s not fully filled within %s", last.OrderID, e.fillTimeout))
		case <-ctx.Done():
			return e.settle(last, fmt.Sprintf("order %s settlement interrupted: %v", last.OrderID, ctx.Err()))
		}
	}
	return e.settle(last, "")
}

func (e *Executor) settle(order *exchange.OrderResult, timeoutNote string) *domain.ExecutionResult {
	result := &domain.ExecutionResult{
		FilledAmount: order.FilledAmount,
		AvgPrice:     order.AvgPrice,
		OrderIDs:     []string{order.OrderID},
	}

	switch {
	case order.Done && order.Remaining == 0 && order.FilledAmount > 0:
		result.Status = domain.StatusExecuted
	case order.FilledAmount > 0:
		result.Status = domain.StatusPartial
		result.Error = timeoutNote
	default:
		result.Status = domain.StatusFailed
		if timeoutNote != "" {
			result.Error = timeoutNote
		} else {
			result.Error = fmt.Sprintf("order %s completed with no fill", order.OrderID)
		}
	}
	return result
}
