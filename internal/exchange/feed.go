package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// TickerFeed maintains a live last-price table from the exchange's
// websocket stream. It is purely an optimization: snapshot fetches prefer
// the feed price and fall back to the REST ticker when the feed has no
// recent data, so a dead stream never stalls a cycle.
type TickerFeed struct {
	url   string
	pairs []string

	mu     sync.RWMutex
	prices map[string]tickerPrice
}

type tickerPrice struct {
	price float64
	at    time.Time
}

// maxPriceAge bounds how old a streamed price may be before snapshot
// fetches fall back to REST.
const maxPriceAge = 30 * time.Second

func NewTickerFeed(url string, pairs []string) *TickerFeed {
	return &TickerFeed{
		url:    url,
		pairs:  pairs,
		prices: make(map[string]tickerPrice),
	}
}

// LastPrice returns the streamed price for pair if one arrived recently.
func (f *TickerFeed) LastPrice(pair string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[pair]
	if !ok || time.Since(p.at) > maxPriceAge {
		return 0, false
	}
	return p.price, true
}

// Run connects and consumes the stream until ctx is cancelled, reconnecting
// with capped backoff on any disconnect.
func (f *TickerFeed) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		err := f.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("backoff", backoff).Msg("ticker feed disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

type tickerEvent struct {
	Pair  string  `json:"pair"`
	Price float64 `json:"price"`
}

func (f *TickerFeed) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{"op": "subscribe", "channel": "ticker", "pairs": f.pairs}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	log.Info().Str("url", f.url).Str("pairs", strings.Join(f.pairs, ",")).Msg("ticker feed connected")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev tickerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debug().Err(err).Msg("skipping unparsable ticker message")
			continue
		}
		if ev.Pair == "" || ev.Price <= 0 {
			continue
		}
		f.mu.Lock()
		f.prices[ev.Pair] = tickerPrice{price: ev.Price, at: time.Now()}
		f.mu.Unlock()
	}
}
