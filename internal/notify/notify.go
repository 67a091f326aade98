package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradewind/tradewind/internal/domain"
)

// Channel delivers one message to an external sink.
type Channel interface {
	Send(ctx context.Context, text string) error
}

// SlackWebhook posts messages to a Slack incoming webhook.
type SlackWebhook struct {
	url  string
	http *http.Client
}

func NewSlackWebhook(url string) *SlackWebhook {
	return &SlackWebhook{url: url, http: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SlackWebhook) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, data)
	}
	return nil
}

// Notifier fans messages out to a channel from a background worker. Publish
// never blocks and never fails the caller: when the queue is full or the
// sink is down the message is dropped and counted, nothing more. Trading
// must not depend on Slack being up.
type Notifier struct {
	ch    Channel
	queue chan string

	// OnDrop, when set, is invoked once per dropped message.
	OnDrop func()

	startOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewNotifier(ch Channel, queueSize int) *Notifier {
	return &Notifier{
		ch:    ch,
		queue: make(chan string, queueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the delivery worker. Safe to call once.
func (n *Notifier) Start() {
	n.startOnce.Do(func() { go n.run() })
}

// Close stops the worker after draining whatever is already queued.
func (n *Notifier) Close() {
	close(n.stop)
	<-n.done
}

// Publish enqueues a message for delivery, dropping it when the queue is
// full.
func (n *Notifier) Publish(text string) {
	select {
	case n.queue <- text:
	default:
		log.Warn().Msg("notification queue full, dropping message")
		n.dropped()
	}
}

func (n *Notifier) dropped() {
	if n.OnDrop != nil {
		n.OnDrop()
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for {
		select {
		case text := <-n.queue:
			n.deliver(text)
		case <-n.stop:
			// Drain what is already queued, then exit.
			for {
				select {
				case text := <-n.queue:
					n.deliver(text)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(text string) {
	if n.ch == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.ch.Send(ctx, text); err != nil {
		log.Warn().Err(err).Msg("notification delivery failed, dropping message")
		n.dropped()
	}
}

// FormatCycle renders one completed cycle as a human-readable message.
func FormatCycle(rec domain.LedgerRecord, snap *domain.MarketSnapshot) string {
	var b strings.Builder

	icon := map[domain.ExecStatus]string{
		domain.StatusExecuted: ":white_check_mark:",
		domain.StatusPartial:  ":warning:",
		domain.StatusSkipped:  ":zzz:",
		domain.StatusFailed:   ":x:",
	}[rec.Result.Status]

	fmt.Fprintf(&b, "%s *%s* %s %s", icon, strings.ToUpper(rec.AssetID), rec.Decision.Action, rec.Result.Status)
	if rec.Result.FilledAmount > 0 {
		fmt.Fprintf(&b, " | filled %.6f @ %.2f", rec.Result.FilledAmount, rec.Result.AvgPrice)
	}
	if rec.Decision.Rationale != "" {
		fmt.Fprintf(&b, "\n> %s", rec.Decision.Rationale)
	}
	if rec.Decision.PriorRationale != "" {
		fmt.Fprintf(&b, "\n> model: %s", rec.Decision.PriorRationale)
	}
	if rec.Result.Error != "" {
		fmt.Fprintf(&b, "\n> error: %s", rec.Result.Error)
	}
	if snap != nil {
		fmt.Fprintf(&b, "\nprice %.2f | holdings %.6f | cash %.2f | total %.2f",
			snap.Price, snap.BaseBalance, snap.QuoteBalance, snap.TotalValue())
	}
	fmt.Fprintf(&b, "\ncycle %s", rec.CycleTS.UTC().Format(time.RFC3339))
	return b.String()
}

// FormatStaleness renders a staleness alert for one asset.
func FormatStaleness(assetID string, state domain.HealthState, lastRecord time.Time, now time.Time) string {
	if lastRecord.IsZero() {
		return fmt.Sprintf(":rotating_light: *%s* is %s: no ledger records yet", strings.ToUpper(assetID), state)
	}
	return fmt.Sprintf(":rotating_light: *%s* is %s: last record %s ago (%s)",
		strings.ToUpper(assetID), state,
		now.Sub(lastRecord).Round(time.Minute),
		lastRecord.UTC().Format(time.RFC3339))
}
