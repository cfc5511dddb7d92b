package risk

import (
	"sync"
	"time"
)

// Outcome is one realized trade result kept in the rolling window.
type Outcome struct {
	PnLPct float64   `json:"pnl_pct"`
	Win    bool      `json:"win"`
	At     time.Time `json:"at"`
}

// KillSwitch is a latched halt on all new trading. It is set externally or
// by the guardrail engine on catastrophic conditions and must be explicitly
// cleared; it never expires on its own.
type KillSwitch struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason"`
	ActivatedAt time.Time `json:"activated_at"`
}

// State is the process-wide risk accounting: balance history, drawdown,
// outcome streaks, daily loss tracking, and the kill switch. One instance
// per process, guarded by a single mutex; supervision, coordination, and
// persistence all touch it.
type State struct {
	mu sync.RWMutex

	balance     float64
	peakBalance float64

	totalTrades int
	wins        int
	losses      int
	winStreak   int
	lossStreak  int

	recent   []Outcome // rolling window, oldest evicted
	capacity int

	// Daily loss tracking, anchored to the UTC day open.
	dayOpen       time.Time
	balanceAtOpen float64
	realizedToday float64

	// Exchange clock sync.
	lastClockSync time.Time
	clockSkewMs   int64

	killSwitch KillSwitch
}

// NewState initializes risk state with a starting balance and rolling
// window capacity.
func NewState(balance float64, windowCapacity int) *State {
	if windowCapacity < 1 {
		windowCapacity = 50
	}
	now := time.Now().UTC()
	return &State{
		balance:       balance,
		peakBalance:   balance,
		capacity:      windowCapacity,
		recent:        make([]Outcome, 0, windowCapacity),
		dayOpen:       now.Truncate(24 * time.Hour),
		balanceAtOpen: balance,
	}
}

// UpdateBalance records the latest account balance and advances the peak.
func (s *State) UpdateBalance(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rolloverDayLocked(time.Now().UTC())
	s.balance = balance
	if balance > s.peakBalance {
		s.peakBalance = balance
	}
}

// RecordTrade folds one realized trade outcome into totals, streaks, the
// rolling window, and today's realized PnL.
func (s *State) RecordTrade(pnlUSD, pnlPct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rolloverDayLocked(time.Now().UTC())

	win := pnlUSD > 0
	s.totalTrades++
	if win {
		s.wins++
		s.winStreak++
		s.lossStreak = 0
	} else {
		s.losses++
		s.lossStreak++
		s.winStreak = 0
	}

	s.recent = append(s.recent, Outcome{PnLPct: pnlPct, Win: win, At: time.Now()})
	if len(s.recent) > s.capacity {
		s.recent = s.recent[1:]
	}

	s.realizedToday += pnlUSD
	s.balance += pnlUSD
	if s.balance > s.peakBalance {
		s.peakBalance = s.balance
	}
}

// rolloverDayLocked resets the daily anchors when the UTC day changes.
// Caller must hold the lock.
func (s *State) rolloverDayLocked(now time.Time) {
	day := now.Truncate(24 * time.Hour)
	if day.After(s.dayOpen) {
		s.dayOpen = day
		s.balanceAtOpen = s.balance
		s.realizedToday = 0
	}
}

// Balance returns the current tracked balance.
func (s *State) Balance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// Drawdown returns (peak - current) / peak, floored at 0 when the peak is
// not positive.
func (s *State) Drawdown() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drawdownLocked()
}

func (s *State) drawdownLocked() float64 {
	if s.peakBalance <= 0 {
		return 0
	}
	dd := (s.peakBalance - s.balance) / s.peakBalance
	if dd < 0 {
		return 0
	}
	return dd
}

// DailyLossPct returns today's realized loss as a positive percentage of
// the balance at day open. Gains return 0.
func (s *State) DailyLossPct() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.balanceAtOpen <= 0 || s.realizedToday >= 0 {
		return 0
	}
	return -s.realizedToday / s.balanceAtOpen * 100
}

// WinRate returns the rolling-window win rate, or 0.5 with no history.
func (s *State) WinRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.recent) == 0 {
		return 0.5
	}
	wins := 0
	for _, o := range s.recent {
		if o.Win {
			wins++
		}
	}
	return float64(wins) / float64(len(s.recent))
}

// AvgWinLoss returns the average winning and average losing magnitudes (as
// positive fractions) over the rolling window. Missing sides return small
// conservative defaults so Kelly math never divides by zero.
func (s *State) AvgWinLoss() (avgWin, avgLoss float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	winSum, winN := 0.0, 0
	lossSum, lossN := 0.0, 0
	for _, o := range s.recent {
		if o.Win {
			winSum += o.PnLPct
			winN++
		} else {
			lossSum -= o.PnLPct
			lossN++
		}
	}

	avgWin, avgLoss = 0.01, 0.01
	if winN > 0 {
		avgWin = winSum / float64(winN)
	}
	if lossN > 0 {
		avgLoss = lossSum / float64(lossN)
	}
	if avgWin <= 0 {
		avgWin = 0.01
	}
	if avgLoss <= 0 {
		avgLoss = 0.01
	}
	return avgWin, avgLoss
}

// WindowCounts returns wins and losses inside the rolling window, the
// inputs for the Bayesian posterior.
func (s *State) WindowCounts() (wins, losses int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.recent {
		if o.Win {
			wins++
		} else {
			losses++
		}
	}
	return wins, losses
}

// TotalTrades returns the lifetime trade count.
func (s *State) TotalTrades() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalTrades
}

// Streaks returns the current win and loss streaks. At most one is
// non-zero.
func (s *State) Streaks() (winStreak, lossStreak int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.winStreak, s.lossStreak
}

// TripKillSwitch latches the kill switch. A later trip does not overwrite
// the original reason.
func (s *State) TripKillSwitch(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.killSwitch.Active {
		return
	}
	s.killSwitch = KillSwitch{
		Active:      true,
		Reason:      reason,
		ActivatedAt: time.Now(),
	}
}

// ClearKillSwitch explicitly releases the latch.
func (s *State) ClearKillSwitch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killSwitch = KillSwitch{}
}

// KillSwitchState returns the current latch.
func (s *State) KillSwitchState() KillSwitch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.killSwitch
}

// NoteClockSync records a successful exchange clock check.
func (s *State) NoteClockSync(skewMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastClockSync = time.Now()
	s.clockSkewMs = skewMs
}

// ClockSyncAge returns how long ago the exchange clock was last checked,
// and the measured skew. A zero sync time reports a very large age.
func (s *State) ClockSyncAge() (time.Duration, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastClockSync.IsZero() {
		return time.Duration(1<<62 - 1), s.clockSkewMs
	}
	return time.Since(s.lastClockSync), s.clockSkewMs
}

// Snapshot is the persistable view of risk state.
type Snapshot struct {
	Balance       float64    `json:"balance"`
	PeakBalance   float64    `json:"peak_balance"`
	TotalTrades   int        `json:"total_trades"`
	Wins          int        `json:"wins"`
	Losses        int        `json:"losses"`
	WinStreak     int        `json:"win_streak"`
	LossStreak    int        `json:"loss_streak"`
	Recent        []Outcome  `json:"recent"`
	DayOpen       time.Time  `json:"day_open"`
	BalanceAtOpen float64    `json:"balance_at_open"`
	RealizedToday float64    `json:"realized_today"`
	KillSwitch    KillSwitch `json:"kill_switch"`
}

// Snapshot returns a copy of everything worth persisting.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recent := make([]Outcome, len(s.recent))
	copy(recent, s.recent)

	return Snapshot{
		Balance:       s.balance,
		PeakBalance:   s.peakBalance,
		TotalTrades:   s.totalTrades,
		Wins:          s.wins,
		Losses:        s.losses,
		WinStreak:     s.winStreak,
		LossStreak:    s.lossStreak,
		Recent:        recent,
		DayOpen:       s.dayOpen,
		BalanceAtOpen: s.balanceAtOpen,
		RealizedToday: s.realizedToday,
		KillSwitch:    s.killSwitch,
	}
}

// Restore replaces the state with a persisted snapshot.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balance = snap.Balance
	s.peakBalance = snap.PeakBalance
	s.totalTrades = snap.TotalTrades
	s.wins = snap.Wins
	s.losses = snap.Losses
	s.winStreak = snap.WinStreak
	s.lossStreak = snap.LossStreak
	s.recent = make([]Outcome, len(snap.Recent))
	copy(s.recent, snap.Recent)
	if len(s.recent) > s.capacity {
		s.recent = s.recent[len(s.recent)-s.capacity:]
	}
	s.dayOpen = snap.DayOpen
	s.balanceAtOpen = snap.BalanceAtOpen
	s.realizedToday = snap.RealizedToday
	s.killSwitch = snap.KillSwitch
}
