package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducle1408/futures-sentinel/internal/config"
	"github.com/ducle1408/futures-sentinel/internal/regime"
)

func testPositionConfig() config.PositionConfig {
	return config.Defaults().Position
}

func openLong(t *testing.T, cfg config.PositionConfig) *Position {
	t.Helper()
	pos, err := New(OpenParams{
		Symbol:     "BTCUSDT",
		Side:       Long,
		Category:   "major",
		EntryPrice: 100,
		SizeUSD:    1000,
		Leverage:   5,
		ATR:        1.0,
		Regime:     regime.Neutral,
		Strategy:   "test",
		Now:        time.Now(),
	}, cfg)
	require.NoError(t, err)
	return pos
}

func tick(price float64) MarketTick {
	return MarketTick{Price: price, ATR: 1.0, TrendStrength: 0.5, RSI: 50, VolumeRatio: 1.0, At: time.Now()}
}

func TestNewPositionLevels(t *testing.T) {
	cfg := testPositionConfig()
	pos := openLong(t, cfg)

	// Neutral regime: stop 2.0 x ATR below entry, within the leveraged
	// loss cap (10% / 5x = 2% of price).
	assert.InDelta(t, 98.0, pos.StopLoss(), 1e-9)
	assert.InDelta(t, 103.0, pos.TakeProfit(), 1e-9)
	assert.Equal(t, StateOpen, pos.State())
}

func TestInitialStopClampedByLossCap(t *testing.T) {
	cfg := testPositionConfig()
	pos, err := New(OpenParams{
		Symbol:     "BTCUSDT",
		Side:       Long,
		EntryPrice: 100,
		SizeUSD:    1000,
		Leverage:   10,
		ATR:        5.0, // 2x multiplier would put the stop 10 points away
		Regime:     regime.Neutral,
	}, cfg)
	require.NoError(t, err)

	// Loss cap 10% at 10x means the stop can sit at most 1% from entry.
	assert.InDelta(t, 99.0, pos.StopLoss(), 1e-9)

	// Leveraged loss at the stop equals the cap exactly.
	assert.InDelta(t, -cfg.MaxStopLossPct, pos.PnLPct(pos.StopLoss()), 1e-9)
}

func TestStopDistanceWiderInBearThanBull(t *testing.T) {
	cfg := testPositionConfig()

	mk := func(r regime.Regime) *Position {
		pos, err := New(OpenParams{
			Symbol: "BTCUSDT", Side: Long, EntryPrice: 100, SizeUSD: 1000,
			Leverage: 1, ATR: 1.0, Regime: r,
		}, cfg)
		require.NoError(t, err)
		return pos
	}

	bull := mk(regime.Bull)
	bear := mk(regime.Bear)

	assert.Greater(t, bull.StopLoss(), bear.StopLoss(),
		"bear stop must sit further from entry than bull stop")
}

func TestTrailingStopMonotonicLong(t *testing.T) {
	cfg := testPositionConfig()
	pos := openLong(t, cfg)

	_, closed := pos.Refresh(tick(101.5), cfg)
	require.False(t, closed)

	raised := pos.StopLoss()
	assert.InDelta(t, 99.5, raised, 1e-9, "stop must advance behind a rising price")

	// A pullback must never loosen the stop.
	_, closed = pos.Refresh(tick(101), cfg)
	require.False(t, closed)
	assert.Equal(t, raised, pos.StopLoss())

	// A new high advances it again.
	_, closed = pos.Refresh(tick(102.2), cfg)
	require.False(t, closed)
	assert.InDelta(t, 100.2, pos.StopLoss(), 1e-9)
}

func TestTrailingStopMonotonicShort(t *testing.T) {
	cfg := testPositionConfig()
	pos, err := New(OpenParams{
		Symbol: "ETHUSDT", Side: Short, EntryPrice: 100, SizeUSD: 1000,
		Leverage: 2, ATR: 1.0, Regime: regime.Neutral,
	}, cfg)
	require.NoError(t, err)
	require.InDelta(t, 102.0, pos.StopLoss(), 1e-9)

	_, closed := pos.Refresh(tick(98), cfg)
	require.False(t, closed)

	lowered := pos.StopLoss()
	assert.InDelta(t, 100.0, lowered, 1e-9)

	_, closed = pos.Refresh(tick(99), cfg)
	require.False(t, closed)
	assert.Equal(t, lowered, pos.StopLoss(), "bounce must not raise a short stop")
}

func TestCloseReasonStopVersusTrailing(t *testing.T) {
	cfg := testPositionConfig()

	t.Run("breach without banked profit is a stop loss", func(t *testing.T) {
		pos := openLong(t, cfg)
		reason, closed := pos.Refresh(tick(97.5), cfg)
		require.True(t, closed)
		assert.Equal(t, CloseStopLoss, reason)
	})

	t.Run("breach of an advanced stop after profit is a trailing stop", func(t *testing.T) {
		pos := openLong(t, cfg)
		_, closed := pos.Refresh(tick(102), cfg) // pnl 10% leveraged, trail arms, stop -> 101
		require.False(t, closed)
		require.Greater(t, pos.StopLoss(), 98.0)

		reason, closed := pos.Refresh(tick(99.5), cfg)
		require.True(t, closed)
		assert.Equal(t, CloseTrailingStop, reason)
	})
}

func TestTakeProfitClose(t *testing.T) {
	cfg := testPositionConfig()
	cfg.TPExtendStepPct = 0 // freeze the target for determinism
	pos := openLong(t, cfg)

	reason, closed := pos.Refresh(tick(103.2), cfg)
	require.True(t, closed)
	assert.Equal(t, CloseTakeProfit, reason)
}

func TestTakeProfitExtendsOutwardOnly(t *testing.T) {
	cfg := testPositionConfig()
	pos := openLong(t, cfg)

	strong := tick(102.5)
	strong.TrendStrength = 0.8
	_, closed := pos.Refresh(strong, cfg)
	require.False(t, closed)
	extended := pos.TakeProfit()
	assert.Greater(t, extended, 103.0, "strong trend near the target pushes it outward")

	weak := tick(101)
	weak.TrendStrength = 0.45
	_, closed = pos.Refresh(weak, cfg)
	require.False(t, closed)
	assert.Equal(t, extended, pos.TakeProfit(), "weak trend must never pull the target back in")
}

func TestStalledClose(t *testing.T) {
	cfg := testPositionConfig()
	pos := openLong(t, cfg)

	flat := tick(100.05) // 0.25% leveraged, inside the 0.5% stall band
	flat.At = pos.EntryTime.Add(9 * time.Hour)
	reason, closed := pos.Refresh(flat, cfg)
	require.True(t, closed)
	assert.Equal(t, CloseStalled, reason)
}

func TestExhaustionClose(t *testing.T) {
	cfg := testPositionConfig()
	pos := openLong(t, cfg)

	exhausted := tick(100.5) // 2.5% leveraged profit, above the 1% floor
	exhausted.RSI = 80
	exhausted.VolumeRatio = 0.4
	reason, closed := pos.Refresh(exhausted, cfg)
	require.True(t, closed)
	assert.Equal(t, CloseExhaustion, reason)
}

func TestMomentumReversalClose(t *testing.T) {
	cfg := testPositionConfig()
	pos := openLong(t, cfg)

	_, closed := pos.Refresh(tick(100.6), cfg) // peak 3% leveraged
	require.False(t, closed)

	fading := tick(100.3) // gave back 1.5%, still profitable
	fading.TrendStrength = 0.2
	reason, closed := pos.Refresh(fading, cfg)
	require.True(t, closed)
	assert.Equal(t, CloseMomentumReversal, reason)
}

func TestScaleInRecomputesEntry(t *testing.T) {
	cfg := testPositionConfig()
	pos := openLong(t, cfg)

	require.NoError(t, pos.ScaleIn(1000, 90, cfg))

	assert.InDelta(t, 95.0, pos.EntryPrice(), 1e-9, "volume-weighted entry of equal tranches")
	assert.InDelta(t, 2000.0, pos.SizeUSD(), 1e-9)
	assert.Equal(t, 1, pos.ScaleIns())
	assert.Equal(t, StateOpen, pos.State())
}

func TestScaleInLimit(t *testing.T) {
	cfg := testPositionConfig()
	pos := openLong(t, cfg)

	for i := 0; i < cfg.MaxScaleIns; i++ {
		require.NoError(t, pos.ScaleIn(100, 95, cfg))
	}
	err := pos.ScaleIn(100, 95, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}

func TestScaleOutRealizesProportionally(t *testing.T) {
	cfg := testPositionConfig()
	pos := openLong(t, cfg)

	realized, err := pos.ScaleOut(0.5, 102)
	require.NoError(t, err)

	// Half of $1000 at +10% leveraged.
	assert.InDelta(t, 50.0, realized, 1e-9)
	assert.InDelta(t, 500.0, pos.SizeUSD(), 1e-9)
}

func TestSnapshotRoundTrip(t *testing.T) {
	cfg := testPositionConfig()
	pos := openLong(t, cfg)
	_, _ = pos.Refresh(tick(104), cfg)

	restored := FromSnapshot(pos.Snapshot())

	assert.Equal(t, pos.Symbol, restored.Symbol)
	assert.Equal(t, pos.StopLoss(), restored.StopLoss())
	assert.Equal(t, pos.TakeProfit(), restored.TakeProfit())
	assert.Equal(t, pos.EntryPrice(), restored.EntryPrice())
	assert.Equal(t, pos.EntryRegime, restored.EntryRegime)
	assert.Equal(t, StateOpen, restored.State())
}
