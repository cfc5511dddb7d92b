package risk

import (
	"testing"
	"time"
)

func TestRecordTradeAccounting(t *testing.T) {
	st := NewState(10000, 50)

	st.RecordTrade(200, 2.0)
	st.RecordTrade(-100, -1.0)
	st.RecordTrade(300, 3.0)

	if got := st.Balance(); got != 10400 {
		t.Fatalf("balance = %.2f, want 10400", got)
	}
	if got := st.TotalTrades(); got != 3 {
		t.Fatalf("total trades = %d, want 3", got)
	}
	if got := st.WinRate(); got != 2.0/3.0 {
		t.Fatalf("win rate = %.3f, want 0.667", got)
	}
	winStreak, lossStreak := st.Streaks()
	if winStreak != 1 || lossStreak != 0 {
		t.Fatalf("streaks = %d/%d, want 1/0", winStreak, lossStreak)
	}
}

func TestDailyLossPct(t *testing.T) {
	st := NewState(10000, 50)

	if got := st.DailyLossPct(); got != 0 {
		t.Fatalf("fresh state daily loss = %.2f, want 0", got)
	}

	st.RecordTrade(-250, -2.5)
	if got := st.DailyLossPct(); got != 2.5 {
		t.Fatalf("daily loss = %.2f, want 2.5", got)
	}

	// A gain that outweighs the loss zeroes the figure.
	st.RecordTrade(400, 4.0)
	if got := st.DailyLossPct(); got != 0 {
		t.Fatalf("daily loss after recovery = %.2f, want 0", got)
	}
}

func TestDrawdownFlooredAtZero(t *testing.T) {
	st := NewState(10000, 50)

	st.UpdateBalance(12000)
	st.UpdateBalance(9000)
	if got := st.Drawdown(); got != 0.25 {
		t.Fatalf("drawdown = %.3f, want 0.25", got)
	}

	st.UpdateBalance(13000)
	if got := st.Drawdown(); got != 0 {
		t.Fatalf("drawdown at new peak = %.3f, want 0", got)
	}
}

func TestRollingWindowEviction(t *testing.T) {
	st := NewState(10000, 3)

	st.RecordTrade(-10, -0.1)
	st.RecordTrade(-10, -0.1)
	st.RecordTrade(-10, -0.1)
	st.RecordTrade(10, 0.1)

	wins, losses := st.WindowCounts()
	if wins != 1 || losses != 2 {
		t.Fatalf("window = %d wins / %d losses, want 1/2", wins, losses)
	}
	if got := st.TotalTrades(); got != 4 {
		t.Fatalf("lifetime total = %d, want 4 (eviction must not touch it)", got)
	}
}

func TestKillSwitchLatch(t *testing.T) {
	st := NewState(10000, 50)

	st.TripKillSwitch("first reason")
	st.TripKillSwitch("second reason")

	ks := st.KillSwitchState()
	if !ks.Active {
		t.Fatal("kill switch should be active")
	}
	if ks.Reason != "first reason" {
		t.Fatalf("reason = %q, a later trip must not overwrite", ks.Reason)
	}

	st.ClearKillSwitch()
	if st.KillSwitchState().Active {
		t.Fatal("kill switch should be cleared")
	}
}

func TestClockSyncAge(t *testing.T) {
	st := NewState(10000, 50)

	age, _ := st.ClockSyncAge()
	if age < 24*time.Hour {
		t.Fatalf("never-synced age = %s, want effectively infinite", age)
	}

	st.NoteClockSync(42)
	age, skew := st.ClockSyncAge()
	if age > time.Minute {
		t.Fatalf("freshly synced age = %s", age)
	}
	if skew != 42 {
		t.Fatalf("skew = %d, want 42", skew)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	st := NewState(10000, 50)
	st.RecordTrade(200, 2.0)
	st.RecordTrade(-50, -0.5)
	st.TripKillSwitch("test halt")
	st.NoteClockSync(10)

	snap := st.Snapshot()

	restored := NewState(0, 50)
	restored.Restore(snap)

	if restored.Balance() != st.Balance() {
		t.Fatalf("balance %.2f != %.2f", restored.Balance(), st.Balance())
	}
	if restored.TotalTrades() != st.TotalTrades() {
		t.Fatalf("total trades %d != %d", restored.TotalTrades(), st.TotalTrades())
	}
	if restored.WinRate() != st.WinRate() {
		t.Fatalf("win rate %.3f != %.3f", restored.WinRate(), st.WinRate())
	}
	if !restored.KillSwitchState().Active {
		t.Fatal("kill switch must survive the round trip")
	}
}

func TestAvgWinLossDefaults(t *testing.T) {
	st := NewState(10000, 50)

	avgWin, avgLoss := st.AvgWinLoss()
	if avgWin != 0.01 || avgLoss != 0.01 {
		t.Fatalf("empty-window averages = %.3f/%.3f, want 0.01/0.01", avgWin, avgLoss)
	}

	st.RecordTrade(100, 0.04)
	st.RecordTrade(100, 0.02)
	st.RecordTrade(-100, -0.03)

	avgWin, avgLoss = st.AvgWinLoss()
	if avgWin != 0.03 {
		t.Fatalf("avgWin = %.4f, want 0.03", avgWin)
	}
	if avgLoss != 0.03 {
		t.Fatalf("avgLoss = %.4f, want 0.03", avgLoss)
	}
}

func TestPortfolioHeat(t *testing.T) {
	tests := []struct {
		name string
		in   HeatInputs
		want float64
	}{
		{
			name: "empty portfolio is cold",
			in:   HeatInputs{MaxPositions: 5, MaxLeverage: 20},
			want: 0,
		},
		{
			name: "full congested portfolio is maximal",
			in: HeatInputs{
				OpenPositions: 5, MaxPositions: 5,
				AvgLeverage: 20, MaxLeverage: 20,
				AvgCorrelation: 1,
			},
			want: 100,
		},
		{
			name: "mixed portfolio",
			in: HeatInputs{
				OpenPositions: 2, MaxPositions: 5,
				AvgLeverage: 5, MaxLeverage: 20,
				AvgCorrelation: 0.5,
			},
			// 40*0.4 + 30*0.25 + 30*0.5
			want: 38.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PortfolioHeat(tt.in)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("heat = %.4f, want %.4f", got, tt.want)
			}
		})
	}
}

func TestCorrelationTracker(t *testing.T) {
	tr := NewCorrelationTracker(100)

	// Mirrored return streams: +1%/-0.5% alternating vs its exact inverse.
	up := make([]float64, 30)
	down := make([]float64, 30)
	up[0], down[0] = 100, 100
	for i := 1; i < 30; i++ {
		if i%2 == 1 {
			up[i] = up[i-1] * 1.01
			down[i] = down[i-1] * 0.99
		} else {
			up[i] = up[i-1] * 0.995
			down[i] = down[i-1] * 1.005
		}
	}

	tr.Observe("AAA", up)
	tr.Observe("BBB", up)
	tr.Observe("CCC", down)

	if c := tr.Pairwise("AAA", "BBB"); c < 0.99 {
		t.Fatalf("identical trajectories correlation = %.3f, want ~1", c)
	}
	if c := tr.Pairwise("AAA", "CCC"); c > -0.9 {
		t.Fatalf("opposite trajectories correlation = %.3f, want strongly negative", c)
	}
	if c := tr.AvgAbsCorrelation("AAA", []string{"BBB", "CCC"}); c < 0.9 {
		t.Fatalf("avg abs correlation = %.3f, want high", c)
	}
	if c := tr.AvgAbsCorrelation("ZZZ", []string{"AAA"}); c != 0 {
		t.Fatalf("unknown symbol correlation = %.3f, want 0 (no history, no penalty)", c)
	}
}
