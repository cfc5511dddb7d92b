package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducle1408/futures-sentinel/internal/config"
	"github.com/ducle1408/futures-sentinel/internal/logger"
)

func testGuardrails(t *testing.T, st *State) *Guardrails {
	t.Helper()
	lg, err := logger.NewLogger("guardrails-test", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { lg.Close() })
	return NewGuardrails(config.Defaults().Risk, st, lg)
}

func syncedState(balance float64) *State {
	st := NewState(balance, 50)
	st.NoteClockSync(100)
	return st
}

func okTrade() ProposedTrade {
	return ProposedTrade{Symbol: "BTCUSDT", Category: "major", ValueUSD: 500, Confidence: 0.8}
}

func okView() PortfolioView {
	return PortfolioView{
		Balance:        10000,
		OpenPositions:  1,
		CategoryCounts: map[string]int{"major": 1},
		Heat:           30,
	}
}

func TestGuardrailsAllowNormalTrade(t *testing.T) {
	g := testGuardrails(t, syncedState(10000))
	decision := g.Evaluate(okTrade(), okView())
	assert.True(t, decision.Allowed, decision.Reason)
}

func TestKillSwitchDeniesEverything(t *testing.T) {
	st := syncedState(10000)
	st.TripKillSwitch("manual halt")
	g := testGuardrails(t, st)

	decision := g.Evaluate(okTrade(), okView())
	require.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "kill switch")

	// Even a trivially small trade in an empty portfolio is denied.
	decision = g.Evaluate(ProposedTrade{Symbol: "ETHUSDT", ValueUSD: 1}, PortfolioView{Balance: 10000})
	assert.False(t, decision.Allowed)
}

func TestClockStalenessDenies(t *testing.T) {
	st := NewState(10000, 50) // never synced
	g := testGuardrails(t, st)

	decision := g.Evaluate(okTrade(), okView())
	require.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "clock sync stale")
}

func TestClockSkewDenies(t *testing.T) {
	st := NewState(10000, 50)
	st.NoteClockSync(5000) // 5s skew, limit is 1s
	g := testGuardrails(t, st)

	decision := g.Evaluate(okTrade(), okView())
	require.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "clock skew")
}

func TestClockSkewDeniesWhenBehind(t *testing.T) {
	st := NewState(10000, 50)
	st.NoteClockSync(-5000) // local clock 5s behind the exchange
	g := testGuardrails(t, st)

	decision := g.Evaluate(okTrade(), okView())
	require.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "clock skew")
}

func TestDailyLossCapDenies(t *testing.T) {
	st := syncedState(10000)
	st.RecordTrade(-350, -3.5) // 3.5% of day-open balance, cap is 3%
	g := testGuardrails(t, st)

	decision := g.Evaluate(okTrade(), okView())
	require.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "daily loss cap")
	assert.False(t, st.KillSwitchState().Active, "cap breach alone must not trip the kill switch")
}

func TestSevereDailyLossTripsKillSwitch(t *testing.T) {
	st := syncedState(10000)
	st.RecordTrade(-500, -5.0) // past 3% * 1.5 severe threshold
	g := testGuardrails(t, st)

	decision := g.Evaluate(okTrade(), okView())
	require.False(t, decision.Allowed)
	assert.True(t, st.KillSwitchState().Active)
	assert.Contains(t, st.KillSwitchState().Reason, "severe")
}

func TestMaxOpenPositionsDenies(t *testing.T) {
	g := testGuardrails(t, syncedState(10000))

	view := okView()
	view.OpenPositions = 5
	decision := g.Evaluate(okTrade(), view)
	require.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "max open positions")
}

func TestPositionValueCapDenies(t *testing.T) {
	g := testGuardrails(t, syncedState(10000))

	trade := okTrade()
	trade.ValueUSD = 3000 // 30% of balance, cap is 25%
	decision := g.Evaluate(trade, okView())
	require.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "position value")
}

func TestHeatCeilingDenies(t *testing.T) {
	g := testGuardrails(t, syncedState(10000))

	view := okView()
	view.Heat = 85 // ceiling is 80
	decision := g.Evaluate(okTrade(), view)
	require.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "heat")
}

func TestCategoryConcentration(t *testing.T) {
	g := testGuardrails(t, syncedState(10000))

	view := okView()
	view.CategoryCounts = map[string]int{"major": 2} // group limit is 2

	t.Run("known category at limit denied", func(t *testing.T) {
		decision := g.Evaluate(okTrade(), view)
		require.False(t, decision.Allowed)
		assert.Contains(t, decision.Reason, "concentration")
	})

	t.Run("unknown category exempt", func(t *testing.T) {
		trade := okTrade()
		trade.Symbol = "OBSCUREUSDT"
		trade.Category = "unknown"
		crowded := view
		crowded.CategoryCounts = map[string]int{"unknown": 4, "major": 2}
		decision := g.Evaluate(trade, crowded)
		assert.True(t, decision.Allowed, decision.Reason)
	})
}

func TestCheckOrderKillSwitchFirst(t *testing.T) {
	// Everything is wrong at once; the kill switch reason must win.
	st := NewState(10000, 50)
	st.TripKillSwitch("halt")
	st.RecordTrade(-900, -9)
	g := testGuardrails(t, st)

	view := PortfolioView{
		Balance:        10000,
		OpenPositions:  9,
		CategoryCounts: map[string]int{"major": 9},
		Heat:           100,
	}
	decision := g.Evaluate(okTrade(), view)
	require.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "kill switch")
}
