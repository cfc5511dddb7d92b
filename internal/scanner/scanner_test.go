package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducle1408/futures-sentinel/internal/config"
	"github.com/ducle1408/futures-sentinel/internal/exchange"
	"github.com/ducle1408/futures-sentinel/internal/logger"
	"github.com/ducle1408/futures-sentinel/internal/regime"
	"github.com/ducle1408/futures-sentinel/pkg/types"
)

func TestCacheReplaceSortsByScore(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Now()

	c.Replace([]Opportunity{
		{Symbol: "A", Score: 0.3},
		{Symbol: "B", Score: 0.9},
		{Symbol: "C", Score: 0.6},
	}, now)

	got := c.Fresh(now)
	require.Len(t, got, 3)
	assert.Equal(t, "B", got[0].Symbol)
	assert.Equal(t, "C", got[1].Symbol)
	assert.Equal(t, "A", got[2].Symbol)
}

func TestCacheStalenessRejection(t *testing.T) {
	c := NewCache(time.Minute)
	scannedAt := time.Now()
	c.Replace([]Opportunity{{Symbol: "A", Score: 1}}, scannedAt)

	assert.NotNil(t, c.Fresh(scannedAt.Add(30*time.Second)))
	assert.Nil(t, c.Fresh(scannedAt.Add(2*time.Minute)),
		"results past the TTL must not be served")
}

func TestCacheEmptyIsStale(t *testing.T) {
	c := NewCache(time.Minute)
	assert.Nil(t, c.Fresh(time.Now()))
	assert.Greater(t, c.Age(time.Now()), time.Hour)
}

func TestCacheReplaceIsAtomic(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Now()
	c.Replace([]Opportunity{{Symbol: "A", Score: 1}, {Symbol: "B", Score: 0.5}}, now)
	c.Replace([]Opportunity{{Symbol: "C", Score: 0.7}}, now)

	got := c.Fresh(now)
	require.Len(t, got, 1, "a new scan fully replaces the old one")
	assert.Equal(t, "C", got[0].Symbol)
}

func flatCandles(n int, price float64) []types.OHLCV {
	out := make([]types.OHLCV, n)
	ts := time.Now().Add(-time.Duration(n) * time.Hour)
	for i := range out {
		out[i] = types.OHLCV{
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
			Open:      price, High: price, Low: price, Close: price,
			Volume: 100,
		}
	}
	return out
}

func TestTrendMomentumNoSignalOnShortHistory(t *testing.T) {
	src := NewTrendMomentumSource(regime.NewDetector(regime.DefaultDetectorConfig()), DefaultTrendMomentumConfig())
	_, ok := src.Evaluate("BTCUSDT", "major", flatCandles(10, 100), time.Now())
	assert.False(t, ok)
}

func TestTrendMomentumNoSignalInFlatMarket(t *testing.T) {
	src := NewTrendMomentumSource(regime.NewDetector(regime.DefaultDetectorConfig()), DefaultTrendMomentumConfig())
	// A flat market is Neutral (or LowVol): neither branch produces a signal.
	_, ok := src.Evaluate("BTCUSDT", "major", flatCandles(45, 100), time.Now())
	assert.False(t, ok)
}

func TestTrendMomentumRejectsOverboughtBull(t *testing.T) {
	// A relentless rally classifies Bull with RSI pinned at 100: momentum
	// has no headroom, so no entry.
	candles := make([]types.OHLCV, 45)
	price := 100.0
	ts := time.Now().Add(-45 * time.Hour)
	for i := range candles {
		next := price * 1.01
		candles[i] = types.OHLCV{
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
			Open:      price, High: next, Low: price, Close: next,
			Volume: 100,
		}
		price = next
	}

	src := NewTrendMomentumSource(regime.NewDetector(regime.DefaultDetectorConfig()), DefaultTrendMomentumConfig())
	_, ok := src.Evaluate("BTCUSDT", "major", candles, time.Now())
	assert.False(t, ok)
}

func TestScannerReplacesCacheOnScan(t *testing.T) {
	lg, err := logger.NewLogger("scanner-test", t.TempDir())
	require.NoError(t, err)
	defer lg.Close()

	paper := exchange.NewPaperExchange(10000)
	paper.SetKlines("BTCUSDT", flatCandles(60, 100))

	trading := config.Defaults().Trading
	trading.Symbols = []string{"BTCUSDT"}

	cache := NewCache(time.Minute)
	src := NewTrendMomentumSource(regime.NewDetector(regime.DefaultDetectorConfig()), DefaultTrendMomentumConfig())
	s := NewScanner(paper, []SignalSource{src}, cache, trading, lg)

	require.NoError(t, s.Scan(context.Background()))
	assert.NotNil(t, cache.Fresh(time.Now()), "a completed scan must refresh the cache even with no signals")
}

func TestScannerAllSymbolsFailing(t *testing.T) {
	lg, err := logger.NewLogger("scanner-test", t.TempDir())
	require.NoError(t, err)
	defer lg.Close()

	paper := exchange.NewPaperExchange(10000) // no kline data injected
	trading := config.Defaults().Trading

	cache := NewCache(time.Minute)
	src := NewTrendMomentumSource(regime.NewDetector(regime.DefaultDetectorConfig()), DefaultTrendMomentumConfig())
	s := NewScanner(paper, []SignalSource{src}, cache, trading, lg)

	err = s.Scan(context.Background())
	require.Error(t, err)
	assert.Nil(t, cache.Fresh(time.Now()), "a fully failed scan must not refresh the cache")
}
