package position

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducle1408/futures-sentinel/internal/config"
	"github.com/ducle1408/futures-sentinel/internal/regime"
	"github.com/ducle1408/futures-sentinel/pkg/types"
)

func testLedger() *Ledger {
	return NewLedger(config.Defaults().Position, nil)
}

func openParams(symbol string) OpenParams {
	return OpenParams{
		Symbol:     symbol,
		Side:       Long,
		Category:   "major",
		EntryPrice: 100,
		SizeUSD:    1000,
		Leverage:   5,
		ATR:        1.0,
		Regime:     regime.Neutral,
		Strategy:   "test",
	}
}

func TestLedgerOnePositionPerSymbol(t *testing.T) {
	l := testLedger()

	_, err := l.Open(openParams("BTCUSDT"))
	require.NoError(t, err)

	_, err = l.Open(openParams("BTCUSDT"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already open")
	assert.Equal(t, 1, l.Count())
}

func TestLedgerConcurrentOpensSingleWinner(t *testing.T) {
	l := testLedger()

	const attempts = 32
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Open(openParams("ETHUSDT"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded int
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent open must win")
	assert.Equal(t, 1, l.Count())
}

func TestLedgerRefreshClosesAndRemoves(t *testing.T) {
	l := testLedger()
	_, err := l.Open(openParams("BTCUSDT"))
	require.NoError(t, err)

	trade, err := l.Refresh("BTCUSDT", MarketTick{Price: 97, ATR: 1, TrendStrength: 0.5, RSI: 50, VolumeRatio: 1, At: time.Now()})
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.Equal(t, CloseStopLoss, trade.Reason)
	assert.NotEmpty(t, trade.ID)
	assert.Negative(t, trade.PnLUSD)
	assert.False(t, l.Has("BTCUSDT"))

	closed := l.RecentClosed(5)
	require.Len(t, closed, 1)
	assert.Equal(t, trade.ID, closed[0].ID)
}

func TestLedgerGetReturnsDetachedCopy(t *testing.T) {
	l := testLedger()
	_, err := l.Open(openParams("BTCUSDT"))
	require.NoError(t, err)

	pos, ok := l.Get("BTCUSDT")
	require.True(t, ok)

	// Advancing the copy must not touch ledger state.
	pos.Refresh(MarketTick{Price: 102, ATR: 1, TrendStrength: 0.5, RSI: 50, VolumeRatio: 1, At: time.Now()}, config.Defaults().Position)
	require.InDelta(t, 102.0, pos.LastPrice(), 1e-9)

	fresh, ok := l.Get("BTCUSDT")
	require.True(t, ok)
	assert.Zero(t, fresh.LastPrice(), "ledger position must be unaffected by reads on the copy")
}

func TestLedgerConcurrentRefreshAndGet(t *testing.T) {
	l := testLedger()
	_, err := l.Open(openParams("BTCUSDT"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			price := 100.0 + float64(i%3)*0.1
			l.Refresh("BTCUSDT", MarketTick{Price: price, ATR: 1, TrendStrength: 0.5, RSI: 50, VolumeRatio: 1, At: time.Now()})
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		if pos, ok := l.Get("BTCUSDT"); ok {
			_ = pos.StopLoss()
			_ = pos.PnLPct(pos.LastPrice())
			_ = pos.SizeUSD()
		}
	}
}

func TestLedgerRefreshUnknownSymbol(t *testing.T) {
	l := testLedger()
	_, err := l.Refresh("NOPEUSDT", MarketTick{Price: 100, At: time.Now()})
	require.Error(t, err)
}

func TestLedgerAggregates(t *testing.T) {
	l := testLedger()

	p1 := openParams("BTCUSDT")
	p2 := openParams("ETHUSDT")
	p2.Category = "major"
	p3 := openParams("SOLUSDT")
	p3.Category = "layer1"
	p3.Leverage = 10
	for _, p := range []OpenParams{p1, p2, p3} {
		_, err := l.Open(p)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, l.Symbols())
	assert.Equal(t, map[string]int{"major": 2, "layer1": 1}, l.CategoryCounts())
	assert.InDelta(t, 3000.0, l.TotalExposure(), 1e-9)
	assert.InDelta(t, (5.0+5.0+10.0)/3.0, l.AvgLeverage(), 1e-9)
}

func TestLedgerSnapshotRestore(t *testing.T) {
	l := testLedger()
	_, err := l.Open(openParams("BTCUSDT"))
	require.NoError(t, err)
	_, err = l.Open(openParams("ETHUSDT"))
	require.NoError(t, err)

	snaps := l.Snapshot()
	require.Len(t, snaps, 2)

	fresh := testLedger()
	fresh.Restore(snaps)
	assert.Equal(t, 2, fresh.Count())
	assert.True(t, fresh.Has("BTCUSDT"))
	assert.True(t, fresh.Has("ETHUSDT"))

	pos, ok := fresh.Get("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 100.0, pos.EntryPrice(), 1e-9)
}

func TestLedgerReconcile(t *testing.T) {
	l := testLedger()
	_, err := l.Open(openParams("BTCUSDT")) // tracked, gone from exchange
	require.NoError(t, err)
	_, err = l.Open(openParams("ETHUSDT")) // tracked and confirmed
	require.NoError(t, err)

	l.Reconcile([]types.ExchangePosition{
		{Symbol: "ETHUSDT", Side: "long", Size: 50, EntryPrice: 100, Leverage: 5},
		{Symbol: "SOLUSDT", Side: "short", Size: 10, EntryPrice: 150, Leverage: 3}, // untracked
	})

	assert.False(t, l.Has("BTCUSDT"), "position missing on exchange must be dropped")
	assert.True(t, l.Has("ETHUSDT"))

	adopted, ok := l.Get("SOLUSDT")
	require.True(t, ok, "untracked exchange position must be adopted")
	assert.Equal(t, Short, adopted.Side)
	assert.Equal(t, "unknown", adopted.Category)
	assert.InDelta(t, 150.0, adopted.EntryPrice(), 1e-9)
}
