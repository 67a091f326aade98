package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradewind/tradewind/internal/config"
	"github.com/tradewind/tradewind/internal/domain"
	"github.com/tradewind/tradewind/internal/exchange"
	"github.com/tradewind/tradewind/internal/ledger"
	"github.com/tradewind/tradewind/internal/news"
)

// Candle windows fed to the decision service: a day of hourly bars for
// short-term structure, five days of 4h bars, and a month of dailies.
const (
	shortTermInterval = "1h"
	shortTermCount    = 24
	midTermInterval   = "4h"
	midTermCount      = 30
	longTermInterval  = "1d"
	longTermCount     = 30

	recentTradeCount = 4
)

// PriceSource is the streamed last-price table; snapshots prefer it over a
// REST round trip when it has recent data.
type PriceSource interface {
	LastPrice(pair string) (float64, bool)
}

// Fetcher assembles the full MarketSnapshot for one cycle: candles across
// three horizons, current price, balances, recent trade history, and
// best-effort headlines.
type Fetcher struct {
	exchange exchange.Client
	feed     PriceSource
	news     news.Source
	trades   ledger.Reader
}

func NewFetcher(ex exchange.Client, feed PriceSource, src news.Source, trades ledger.Reader) *Fetcher {
	return &Fetcher{exchange: ex, feed: feed, news: src, trades: trades}
}

// Snapshot gathers market state for the asset. Exchange data is required;
// news and trade history are contextual and degrade to empty on failure.
func (f *Fetcher) Snapshot(ctx context.Context, asset config.AssetConfig) (*domain.MarketSnapshot, error) {
	base, quote, err := domain.SplitPair(asset.Pair)
	if err != nil {
		return nil, err
	}

	snap := &domain.MarketSnapshot{
		AssetID:   asset.ID,
		Pair:      asset.Pair,
		Timestamp: time.Now().UTC(),
	}

	if snap.ShortTerm, err = f.exchange.Candles(ctx, asset.Pair, shortTermInterval, shortTermCount); err != nil {
		return nil, fmt.Errorf("fetching %s candles for %s: %w", shortTermInterval, asset.Pair, err)
	}
	if snap.MidTerm, err = f.exchange.Candles(ctx, asset.Pair, midTermInterval, midTermCount); err != nil {
		return nil, fmt.Errorf("fetching %s candles for %s: %w", midTermInterval, asset.Pair, err)
	}
	if snap.LongTerm, err = f.exchange.Candles(ctx, asset.Pair, longTermInterval, longTermCount); err != nil {
		return nil, fmt.Errorf("fetching %s candles for %s: %w", longTermInterval, asset.Pair, err)
	}
	if len(snap.ShortTerm) == 0 {
		return nil, fmt.Errorf("exchange returned no %s candles for %s", shortTermInterval, asset.Pair)
	}

	if snap.Price, err = f.price(ctx, asset.Pair); err != nil {
		return nil, fmt.Errorf("fetching price for %s: %w", asset.Pair, err)
	}

	balances, err := f.exchange.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching balances: %w", err)
	}
	snap.BaseBalance = balances[base]
	snap.QuoteBalance = balances[quote]

	if f.trades != nil {
		recent, err := f.trades.ReadRecent(ctx, asset.ID, recentTradeCount)
		if err != nil {
			log.Warn().Err(err).Str("asset", asset.ID).Msg("trade history unavailable for snapshot")
		} else {
			snap.RecentTrades = recent
		}
	}

	if f.news != nil {
		items, err := f.news.Headlines(ctx, asset.ID, asset.Name)
		if err != nil {
			log.Warn().Err(err).Str("asset", asset.ID).Msg("headlines unavailable for snapshot")
		} else {
			snap.News = items
		}
	}

	log.Debug().Str("asset", asset.ID).Float64("price", snap.Price).
		Int("short", len(snap.ShortTerm)).Int("mid", len(snap.MidTerm)).Int("long", len(snap.LongTerm)).
		Int("news", len(snap.News)).Msg("snapshot assembled")
	return snap, nil
}

func (f *Fetcher) price(ctx context.Context, pair string) (float64, error) {
	if f.feed != nil {
		if p, ok := f.feed.LastPrice(pair); ok {
			return p, nil
		}
	}
	return f.exchange.Price(ctx, pair)
}
