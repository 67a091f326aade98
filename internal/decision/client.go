package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradewind/tradewind/infra/breakers"
	"github.com/tradewind/tradewind/internal/domain"
	"github.com/tradewind/tradewind/internal/retry"
)

const systemPrompt = `You are an automated crypto portfolio manager. You receive a JSON ` +
	`market snapshot containing candle history over three horizons, the current ` +
	`price, account balances, recent trades, and news headlines. Respond with a ` +
	`single JSON object and nothing else:
{"decision": "buy" | "sell" | "hold", "percentage": <integer 1-100>, "reason": "<short explanation>"}
"percentage" is the fraction of available quote balance to spend on a buy, or ` +
	`of the held position to liquidate on a sell. Use "hold" when no trade is warranted.`

// Client calls an OpenAI-compatible chat completion endpoint and maps its
// reply onto a Decision. A malformed reply is a model problem, not an
// infrastructure problem: it coerces to HOLD rather than failing the cycle.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
	breaker *breakers.Breaker
}

func NewClient(baseURL, model, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		breaker: breakers.New("decision"),
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// verdict is the contract the model is prompted to answer with.
type verdict struct {
	Decision   string  `json:"decision"`
	Percentage float64 `json:"percentage"`
	Reason     string  `json:"reason"`
}

func (c *Client) Decide(ctx context.Context, cycleTS time.Time, snap *domain.MarketSnapshot) (*domain.Decision, error) {
	content, err := c.complete(ctx, snap)
	if err != nil {
		return nil, err
	}

	d := &domain.Decision{
		AssetID: snap.AssetID,
		CycleTS: cycleTS,
		Source:  domain.SourceDecisionService,
	}

	v, err := parseVerdict(content)
	if err != nil {
		log.Warn().Err(err).Str("asset", snap.AssetID).Str("content", truncate(content, 256)).
			Msg("decision service returned unusable verdict, holding")
		d.Action = domain.ActionHold
		d.Magnitude = 0
		d.Rationale = fmt.Sprintf("invalid-response: %v", err)
		return d, nil
	}

	d.Action = v.action()
	d.Rationale = v.Reason
	if d.Action != domain.ActionHold {
		d.Magnitude = v.Percentage / 100
	}
	// A zero-magnitude buy or sell is a hold by another name.
	if d.Magnitude == 0 {
		d.Action = domain.ActionHold
	}

	log.Info().Str("asset", snap.AssetID).Str("action", string(d.Action)).
		Float64("magnitude", d.Magnitude).Str("reason", d.Rationale).Msg("decision received")
	return d, nil
}

func (v verdict) action() domain.Action {
	switch strings.ToLower(v.Decision) {
	case "buy":
		return domain.ActionBuy
	case "sell":
		return domain.ActionSell
	default:
		return domain.ActionHold
	}
}

// parseVerdict validates the model's reply against the prompted contract.
func parseVerdict(content string) (verdict, error) {
	var v verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &v); err != nil {
		return v, fmt.Errorf("not a JSON object: %w", err)
	}
	switch strings.ToLower(v.Decision) {
	case "buy", "sell":
		if v.Percentage < 0 || v.Percentage > 100 {
			return v, fmt.Errorf("percentage %v out of range [0,100]", v.Percentage)
		}
	case "hold":
	default:
		return v, fmt.Errorf("unknown decision %q", v.Decision)
	}
	return v, nil
}

func (c *Client) complete(ctx context.Context, snap *domain.MarketSnapshot) (string, error) {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(snapJSON)},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	var content string
	err = c.breaker.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.Transient(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			apiErr := fmt.Errorf("decision service returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return retry.Transient(apiErr)
			}
			return apiErr
		}

		var parsed chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("decision service returned no choices")
		}
		content = parsed.Choices[0].Message.Content
		return nil
	})
	return content, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
