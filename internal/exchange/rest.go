package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradewind/tradewind/infra/breakers"
	"github.com/tradewind/tradewind/internal/domain"
	"github.com/tradewind/tradewind/internal/net/ratelimit"
	"github.com/tradewind/tradewind/internal/retry"
)

// classify marks rate-limit and server-side API errors as transient so the
// scheduler's backoff applies; client errors (rejected orders, bad requests)
// surface as-is.
func classify(err *APIError) error {
	if err.IsRetryable() {
		return retry.Transient(err)
	}
	return err
}

// RESTClient talks to the exchange's HTTP API. All calls go through a
// per-host rate limiter and a circuit breaker; 429 and 5xx responses come
// back marked retryable so the scheduler's backoff applies.
type RESTClient struct {
	baseURL string
	http    *http.Client
	limiter *ratelimit.Limiter
	breaker *breakers.Breaker
	host    string
}

// NewRESTClient creates an exchange client against baseURL.
func NewRESTClient(baseURL string, limiter *ratelimit.Limiter) (*RESTClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid exchange base URL: %w", err)
	}
	return &RESTClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
		breaker: breakers.New("exchange"),
		host:    u.Host,
	}, nil
}

// BreakerState exposes the circuit state for health reporting.
func (c *RESTClient) BreakerState() string { return c.breaker.State() }

type candlePayload struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

func (c *RESTClient) Candles(ctx context.Context, pair, interval string, count int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("pair", pair)
	q.Set("interval", interval)
	q.Set("count", fmt.Sprintf("%d", count))

	var payload []candlePayload
	if err := c.getJSON(ctx, "/v1/candles?"+q.Encode(), &payload); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, len(payload))
	for i, p := range payload {
		candles[i] = domain.Candle{
			Timestamp: p.Timestamp,
			Open:      p.Open,
			High:      p.High,
			Low:       p.Low,
			Close:     p.Close,
			Volume:    p.Volume,
		}
	}
	return candles, nil
}

func (c *RESTClient) Price(ctx context.Context, pair string) (float64, error) {
	var payload struct {
		Pair     string  `json:"pair"`
		AskPrice float64 `json:"ask_price"`
	}
	if err := c.getJSON(ctx, "/v1/ticker?pair="+url.QueryEscape(pair), &payload); err != nil {
		return 0, err
	}
	if payload.AskPrice <= 0 {
		return 0, fmt.Errorf("exchange returned non-positive price %v for %s", payload.AskPrice, pair)
	}
	return payload.AskPrice, nil
}

func (c *RESTClient) Balances(ctx context.Context) (map[string]float64, error) {
	var payload []struct {
		Currency string  `json:"currency"`
		Balance  float64 `json:"balance"`
	}
	if err := c.getJSON(ctx, "/v1/balances", &payload); err != nil {
		return nil, err
	}
	balances := make(map[string]float64, len(payload))
	for _, b := range payload {
		balances[b.Currency] = b.Balance
	}
	return balances, nil
}

type orderPayload struct {
	OrderID      string  `json:"order_id"`
	State        string  `json:"state"`
	FilledAmount float64 `json:"filled_amount"`
	AvgPrice     float64 `json:"avg_price"`
	Remaining    float64 `json:"remaining"`
}

func (p orderPayload) toResult() *OrderResult {
	return &OrderResult{
		OrderID:      p.OrderID,
		FilledAmount: p.FilledAmount,
		AvgPrice:     p.AvgPrice,
		Remaining:    p.Remaining,
		Done:         p.State == "done" || p.State == "cancelled",
	}
}

func (c *RESTClient) PlaceOrder(ctx context.Context, pair string, side OrderSide, amount float64) (*OrderResult, error) {
	body := map[string]any{
		"pair":            pair,
		"side":            string(side),
		"type":            "market",
		"amount":          amount,
		"client_order_id": uuid.NewString(),
	}

	var payload orderPayload
	if err := c.postJSON(ctx, "/v1/orders", body, &payload); err != nil {
		return nil, err
	}
	log.Debug().Str("pair", pair).Str("side", string(side)).Float64("amount", amount).
		Str("order_id", payload.OrderID).Msg("order placed")
	return payload.toResult(), nil
}

func (c *RESTClient) Order(ctx context.Context, orderID string) (*OrderResult, error) {
	var payload orderPayload
	if err := c.getJSON(ctx, "/v1/orders/"+url.PathEscape(orderID), &payload); err != nil {
		return nil, err
	}
	return payload.toResult(), nil
}

func (c *RESTClient) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *RESTClient) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, data, out)
}

func (c *RESTClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx, c.host); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	return c.breaker.Do(func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Transport-level failures (timeouts, refused connections) are
			// temporary exchange unavailability as far as the core is concerned.
			return retry.Transient(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return classify(&APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))})
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil
	})
}
