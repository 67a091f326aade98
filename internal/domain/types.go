package domain

import (
	"fmt"
	"strings"
	"time"
)

// SplitPair splits a trading pair like "BTC-USDT" into its base and quote
// currencies.
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.SplitN(pair, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed trading pair %q", pair)
	}
	return parts[0], parts[1], nil
}

// Action is the trading decision for one cycle.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// DecisionSource records which component produced the final decision.
type DecisionSource string

const (
	SourceDecisionService DecisionSource = "decision-service"
	SourceRiskGate        DecisionSource = "risk-gate-override"
)

// Candle is one OHLCV bar from the exchange.
type Candle struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// NewsItem is one headline attached to a snapshot as textual context.
type NewsItem struct {
	Title string `json:"title"`
	Date  string `json:"date"`
	Link  string `json:"link"`
}

// MarketSnapshot is the full market state gathered for one cycle of one
// asset. It lives only for the cycle that produced it.
type MarketSnapshot struct {
	AssetID   string    `json:"asset_id"`
	Pair      string    `json:"pair"`
	Timestamp time.Time `json:"ts"`
	Price     float64   `json:"price"`

	// Candle history across three horizons, mirroring what the decision
	// service is prompted with.
	ShortTerm []Candle `json:"short_term"`
	MidTerm   []Candle `json:"mid_term"`
	LongTerm  []Candle `json:"long_term"`

	News []NewsItem `json:"news,omitempty"`

	// BaseBalance is the held amount of the asset itself, QuoteBalance the
	// cash available to buy with.
	BaseBalance  float64 `json:"base_balance"`
	QuoteBalance float64 `json:"quote_balance"`

	RecentTrades []LedgerRecord `json:"recent_trades,omitempty"`
}

// TotalValue returns the portfolio value visible in this snapshot, priced
// at the snapshot price.
func (s MarketSnapshot) TotalValue() float64 {
	return s.QuoteBalance + s.BaseBalance*s.Price
}

// Decision is the canonical, validated outcome of the decide step.
// Immutable once created; the risk gate produces a new Decision rather
// than mutating this one.
type Decision struct {
	AssetID   string         `json:"asset_id" db:"asset_id"`
	CycleTS   time.Time      `json:"cycle_ts" db:"cycle_ts"`
	Action    Action         `json:"action" db:"action"`
	Magnitude float64        `json:"magnitude" db:"magnitude"`
	Rationale string         `json:"rationale" db:"rationale"`
	// PriorRationale preserves the decision service's own reasoning when
	// the gate rewrites the decision.
	PriorRationale string         `json:"prior_rationale,omitempty" db:"prior_rationale"`
	Source         DecisionSource `json:"source" db:"source"`
}

// ExecStatus classifies how the execute step ended.
type ExecStatus string

const (
	StatusExecuted ExecStatus = "EXECUTED"
	StatusPartial  ExecStatus = "PARTIAL"
	StatusSkipped  ExecStatus = "SKIPPED"
	StatusFailed   ExecStatus = "FAILED"
)

// ExecutionResult describes what actually happened on the exchange for one
// decision.
type ExecutionResult struct {
	Status       ExecStatus `json:"status" db:"status"`
	FilledAmount float64    `json:"filled_amount" db:"filled_amount"`
	AvgPrice     float64    `json:"avg_price" db:"avg_price"`
	OrderIDs     []string   `json:"order_ids,omitempty"`
	Error        string     `json:"error,omitempty" db:"error_detail"`
}

// LedgerRecord is the single durable artifact of one cycle. Exactly one
// exists per (AssetID, CycleTS); writes are idempotent overwrites.
type LedgerRecord struct {
	AssetID   string          `json:"asset_id"`
	CycleTS   time.Time       `json:"cycle_ts"`
	Decision  Decision        `json:"decision"`
	Result    ExecutionResult `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

// HealthState classifies how long ago an asset last completed a cycle.
type HealthState string

const (
	HealthFresh HealthState = "FRESH"
	HealthAging HealthState = "AGING"
	HealthStale HealthState = "STALE"
)

// AssetHealth is the staleness monitor's view of one asset. It is derived
// from ledger timestamps and never written by the trading path.
type AssetHealth struct {
	AssetID    string      `json:"asset_id" db:"asset_id"`
	LastRecord time.Time   `json:"last_record" db:"last_record"`
	LastAlert  time.Time   `json:"last_alert" db:"last_alert"`
	State      HealthState `json:"state" db:"state"`
}
