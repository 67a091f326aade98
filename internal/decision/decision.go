package decision

import (
	"context"
	"time"

	"github.com/tradewind/tradewind/internal/domain"
)

// Service turns a market snapshot into a trading decision. Implementations
// must always return a well-formed Decision or an error, never both.
type Service interface {
	Decide(ctx context.Context, cycleTS time.Time, snap *domain.MarketSnapshot) (*domain.Decision, error)
}
