package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPair(t *testing.T) {
	base, quote, err := SplitPair("BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	for _, bad := range []string{"BTCUSDT", "-USDT", "BTC-", ""} {
		_, _, err := SplitPair(bad)
		assert.Error(t, err, bad)
	}
}

func TestMarketSnapshotTotalValue(t *testing.T) {
	snap := MarketSnapshot{Price: 50000, BaseBalance: 0.5, QuoteBalance: 10000}
	assert.InDelta(t, 35000, snap.TotalValue(), 1e-9)

	empty := MarketSnapshot{Price: 50000}
	assert.Zero(t, empty.TotalValue())
}
