package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewind/tradewind/internal/domain"
)

type recordingChannel struct {
	mu    sync.Mutex
	sent  []string
	err   error
	block chan struct{}
}

func (c *recordingChannel) Send(_ context.Context, text string) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return c.err
}

func (c *recordingChannel) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func TestNotifier_DeliversInOrder(t *testing.T) {
	ch := &recordingChannel{}
	n := NewNotifier(ch, 8)
	n.Start()

	n.Publish("first")
	n.Publish("second")
	n.Close()

	assert.Equal(t, []string{"first", "second"}, ch.messages())
}

func TestNotifier_PublishNeverBlocks(t *testing.T) {
	ch := &recordingChannel{block: make(chan struct{})}
	defer close(ch.block)

	var drops int64
	n := NewNotifier(ch, 2)
	n.OnDrop = func() { atomic.AddInt64(&drops, 1) }
	n.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			n.Publish("msg")
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.Greater(t, atomic.LoadInt64(&drops), int64(0))
}

func TestNotifier_DeliveryFailureDropsSilently(t *testing.T) {
	ch := &recordingChannel{err: errors.New("webhook down")}
	var drops int64
	n := NewNotifier(ch, 8)
	n.OnDrop = func() { atomic.AddInt64(&drops, 1) }
	n.Start()

	n.Publish("doomed")
	n.Close()

	assert.Equal(t, int64(1), atomic.LoadInt64(&drops))
}

func TestSlackWebhook_Send(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
	}))
	defer srv.Close()

	hook := NewSlackWebhook(srv.URL)
	require.NoError(t, hook.Send(context.Background(), "hello"))
	assert.JSONEq(t, `{"text":"hello"}`, body)
}

func TestSlackWebhook_Non200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewSlackWebhook(srv.URL).Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestFormatCycle(t *testing.T) {
	cycleTS := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	rec := domain.LedgerRecord{
		AssetID: "btc",
		CycleTS: cycleTS,
		Decision: domain.Decision{
			Action:         domain.ActionHold,
			Rationale:      "risk-gate: no holdings to sell",
			PriorRationale: "take profit",
			Source:         domain.SourceRiskGate,
		},
		Result: domain.ExecutionResult{Status: domain.StatusSkipped},
	}
	snap := &domain.MarketSnapshot{Price: 50000, BaseBalance: 0, QuoteBalance: 10000}

	msg := FormatCycle(rec, snap)
	assert.Contains(t, msg, "BTC")
	assert.Contains(t, msg, "HOLD")
	assert.Contains(t, msg, "risk-gate: no holdings to sell")
	assert.Contains(t, msg, "model: take profit")
	assert.Contains(t, msg, "total 10000.00")
	assert.Contains(t, msg, "2026-09-01T12:00:00Z")
}

func TestFormatStaleness(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	msg := FormatStaleness("btc", domain.HealthStale, now.Add(-6*time.Hour), now)
	assert.Contains(t, msg, "BTC")
	assert.Contains(t, msg, "STALE")
	assert.Contains(t, msg, "6h0m0s ago")
}
