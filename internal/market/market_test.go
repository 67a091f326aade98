package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewind/tradewind/internal/config"
	"github.com/tradewind/tradewind/internal/domain"
	"github.com/tradewind/tradewind/internal/exchange"
)

type stubExchange struct {
	candles  map[string][]domain.Candle
	price    float64
	priceErr error
	balances map[string]float64
	prices   int
}

func (s *stubExchange) Candles(_ context.Context, _, interval string, _ int) ([]domain.Candle, error) {
	return s.candles[interval], nil
}

func (s *stubExchange) Price(_ context.Context, _ string) (float64, error) {
	s.prices++
	return s.price, s.priceErr
}

func (s *stubExchange) Balances(_ context.Context) (map[string]float64, error) {
	return s.balances, nil
}

func (s *stubExchange) PlaceOrder(_ context.Context, _ string, _ exchange.OrderSide, _ float64) (*exchange.OrderResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubExchange) Order(_ context.Context, _ string) (*exchange.OrderResult, error) {
	return nil, errors.New("not implemented")
}

type stubFeed struct {
	price float64
	ok    bool
}

func (s stubFeed) LastPrice(string) (float64, bool) { return s.price, s.ok }

type stubNews struct {
	items []domain.NewsItem
	err   error
}

func (s stubNews) Headlines(context.Context, string, string) ([]domain.NewsItem, error) {
	return s.items, s.err
}

type stubReader struct {
	records []domain.LedgerRecord
	err     error
}

func (s stubReader) ReadRecent(context.Context, string, int) ([]domain.LedgerRecord, error) {
	return s.records, s.err
}

func (s stubReader) ReadLastTimestamp(context.Context, string) (time.Time, error) {
	return time.Time{}, nil
}

func testAsset() config.AssetConfig {
	return config.AssetConfig{
		ID:                  "btc",
		Name:                "Bitcoin",
		Pair:                "BTC-USDT",
		Interval:            config.Duration(time.Hour),
		MaxPositionFraction: 0.5,
		Enabled:             true,
	}
}

func testCandles() map[string][]domain.Candle {
	bar := domain.Candle{Timestamp: time.Now(), Open: 100, High: 110, Low: 90, Close: 105, Volume: 12}
	return map[string][]domain.Candle{
		"1h": {bar, bar},
		"4h": {bar},
		"1d": {bar},
	}
}

func TestSnapshot_AssemblesAllParts(t *testing.T) {
	ex := &stubExchange{
		candles:  testCandles(),
		price:    50000,
		balances: map[string]float64{"BTC": 0.5, "USDT": 10000},
	}
	newsItems := []domain.NewsItem{{Title: "headline"}}
	trades := []domain.LedgerRecord{{AssetID: "btc"}}

	f := NewFetcher(ex, stubFeed{ok: false}, stubNews{items: newsItems}, stubReader{records: trades})
	snap, err := f.Snapshot(context.Background(), testAsset())
	require.NoError(t, err)

	assert.Equal(t, "btc", snap.AssetID)
	assert.Equal(t, "BTC-USDT", snap.Pair)
	assert.Equal(t, 50000.0, snap.Price)
	assert.Equal(t, 0.5, snap.BaseBalance)
	assert.Equal(t, 10000.0, snap.QuoteBalance)
	assert.Len(t, snap.ShortTerm, 2)
	assert.Len(t, snap.MidTerm, 1)
	assert.Len(t, snap.LongTerm, 1)
	assert.Equal(t, newsItems, snap.News)
	assert.Equal(t, trades, snap.RecentTrades)
	assert.InDelta(t, 10000+0.5*50000, snap.TotalValue(), 1e-9)
}

func TestSnapshot_PrefersFeedPrice(t *testing.T) {
	ex := &stubExchange{candles: testCandles(), price: 50000, balances: map[string]float64{}}

	f := NewFetcher(ex, stubFeed{price: 50123, ok: true}, nil, nil)
	snap, err := f.Snapshot(context.Background(), testAsset())
	require.NoError(t, err)

	assert.Equal(t, 50123.0, snap.Price)
	assert.Zero(t, ex.prices, "REST ticker should not be hit when the feed has a recent price")
}

func TestSnapshot_FallsBackToRESTPrice(t *testing.T) {
	ex := &stubExchange{candles: testCandles(), price: 50000, balances: map[string]float64{}}

	f := NewFetcher(ex, stubFeed{ok: false}, nil, nil)
	snap, err := f.Snapshot(context.Background(), testAsset())
	require.NoError(t, err)

	assert.Equal(t, 50000.0, snap.Price)
	assert.Equal(t, 1, ex.prices)
}

func TestSnapshot_NewsFailureDegradesToEmpty(t *testing.T) {
	ex := &stubExchange{candles: testCandles(), price: 50000, balances: map[string]float64{}}

	f := NewFetcher(ex, nil, stubNews{err: errors.New("quota exceeded")}, stubReader{err: errors.New("db down")})
	snap, err := f.Snapshot(context.Background(), testAsset())
	require.NoError(t, err)

	assert.Empty(t, snap.News)
	assert.Empty(t, snap.RecentTrades)
}

func TestSnapshot_MalformedPair(t *testing.T) {
	asset := testAsset()
	asset.Pair = "BTCUSDT"

	f := NewFetcher(&stubExchange{}, nil, nil, nil)
	_, err := f.Snapshot(context.Background(), asset)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed trading pair")
}
