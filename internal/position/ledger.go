package position

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ducle1408/futures-sentinel/internal/config"
	boterrors "github.com/ducle1408/futures-sentinel/internal/errors"
	"github.com/ducle1408/futures-sentinel/internal/logger"
	"github.com/ducle1408/futures-sentinel/pkg/types"
)

// Ledger owns every open position. One position per symbol; all mutation
// goes through the ledger so the supervision and coordinator loops never
// race on position state.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*Position
	closed    []RealizedTrade
	cfg       config.PositionConfig
	log       *logger.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(cfg config.PositionConfig, log *logger.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
		cfg:       cfg,
		log:       log,
	}
}

// Open admits a new position and returns a detached copy of it. Fails
// when the symbol already has one.
func (l *Ledger) Open(p OpenParams) (*Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.positions[p.Symbol]; ok {
		return nil, boterrors.NewPositionError("ledger", "open",
			fmt.Errorf("position already open for %s (state %s)", p.Symbol, existing.state))
	}

	pos, err := New(p, l.cfg)
	if err != nil {
		return nil, err
	}
	l.positions[p.Symbol] = pos

	if l.log != nil {
		l.log.Trade("OPEN %s %s $%.2f @ %.4f lev=%.0fx stop=%.4f tp=%.4f strategy=%s regime=%s",
			pos.Side, pos.Symbol, pos.sizeUSD, pos.entryPrice, pos.Leverage,
			pos.stopLoss, pos.takeProfit, pos.Strategy, pos.EntryRegime)
	}
	cp := *pos
	return &cp, nil
}

// Has reports whether the symbol currently has an open position.
func (l *Ledger) Has(symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[symbol]
	return ok
}

// Get returns a detached copy of the position for a symbol, if any.
// Callers read the copy without holding the ledger lock; every mutation
// goes through the ledger methods.
func (l *Ledger) Get(symbol string) (*Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Symbols returns a stable sorted snapshot of open symbols. Sweeps iterate
// this snapshot so a close mid-sweep cannot skip or repeat a symbol.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Refresh runs one supervision tick for a symbol under the ledger lock.
// When a close condition fires the position is closed at the tick price
// and the realized trade returned.
func (l *Ledger) Refresh(symbol string, tick MarketTick) (*RealizedTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return nil, boterrors.NewPositionError("ledger", "refresh",
			fmt.Errorf("no open position for %s", symbol))
	}

	reason, shouldClose := pos.Refresh(tick, l.cfg)
	if !shouldClose {
		return nil, nil
	}
	trade := l.closeLocked(pos, tick.Price, reason, tick.At)
	return &trade, nil
}

// Close force-closes a position at the given price with the given reason.
func (l *Ledger) Close(symbol string, price float64, reason CloseReason) (*RealizedTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return nil, boterrors.NewPositionError("ledger", "close",
			fmt.Errorf("no open position for %s", symbol))
	}
	trade := l.closeLocked(pos, price, reason, time.Now())
	return &trade, nil
}

func (l *Ledger) closeLocked(pos *Position, price float64, reason CloseReason, now time.Time) RealizedTrade {
	trade := pos.close(price, reason, now)
	delete(l.positions, pos.Symbol)
	l.closed = append(l.closed, trade)

	if l.log != nil {
		l.log.Trade("CLOSE %s %s @ %.4f pnl=$%.2f (%.2f%%) reason=%s held=%s",
			trade.Side, trade.Symbol, trade.Exit, trade.PnLUSD, trade.PnLPct,
			trade.Reason, trade.Duration.Round(time.Second))
	}
	return trade
}

// ScaleIn adds to an open position through the ledger lock.
func (l *Ledger) ScaleIn(symbol string, addUSD, price float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return boterrors.NewPositionError("ledger", "scale_in",
			fmt.Errorf("no open position for %s", symbol))
	}
	if err := pos.ScaleIn(addUSD, price, l.cfg); err != nil {
		return err
	}
	if l.log != nil {
		l.log.Trade("SCALE-IN %s +$%.2f @ %.4f entry=%.4f size=$%.2f (%d/%d)",
			symbol, addUSD, price, pos.entryPrice, pos.sizeUSD, pos.scaleIns, l.cfg.MaxScaleIns)
	}
	return nil
}

// ScaleOut banks part of an open position through the ledger lock.
func (l *Ledger) ScaleOut(symbol string, fraction, price float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return 0, boterrors.NewPositionError("ledger", "scale_out",
			fmt.Errorf("no open position for %s", symbol))
	}
	realized, err := pos.ScaleOut(fraction, price)
	if err != nil {
		return 0, err
	}
	if l.log != nil {
		l.log.Trade("SCALE-OUT %s %.0f%% @ %.4f realized=$%.2f remaining=$%.2f",
			symbol, fraction*100, price, realized, pos.sizeUSD)
	}
	return realized, nil
}

// CategoryCounts returns open positions grouped by asset category, used by
// the concentration guardrail.
func (l *Ledger) CategoryCounts() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int, len(l.positions))
	for _, p := range l.positions {
		out[p.Category]++
	}
	return out
}

// TotalExposure returns the sum of open notional sizes.
func (l *Ledger) TotalExposure() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, p := range l.positions {
		total += p.sizeUSD
	}
	return total
}

// AvgLeverage returns the mean leverage across open positions, 0 when
// none are open.
func (l *Ledger) AvgLeverage() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.positions) == 0 {
		return 0
	}
	var sum float64
	for _, p := range l.positions {
		sum += p.Leverage
	}
	return sum / float64(len(l.positions))
}

// UnrealizedPnL totals the unrealized P/L across open positions at their
// last observed prices.
func (l *Ledger) UnrealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, p := range l.positions {
		total += p.PnLUSD(p.lastPrice)
	}
	return total
}

// RecentClosed returns up to n most recently closed trades, newest last.
func (l *Ledger) RecentClosed(n int) []RealizedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.closed) {
		n = len(l.closed)
	}
	out := make([]RealizedTrade, n)
	copy(out, l.closed[len(l.closed)-n:])
	return out
}

// Snapshot captures all open positions for persistence, sorted by symbol.
func (l *Ledger) Snapshot() []Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Snapshot, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Restore replaces the ledger contents with persisted snapshots.
func (l *Ledger) Restore(snaps []Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[string]*Position, len(snaps))
	for _, s := range snaps {
		l.positions[s.Symbol] = FromSnapshot(s)
	}
}

// Reconcile compares the ledger against positions reported by the
// exchange after a restart. Ledger entries missing on the exchange are
// dropped (closed while offline); exchange positions missing from the
// ledger are adopted with conservative protective levels.
func (l *Ledger) Reconcile(exchangePositions []types.ExchangePosition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	onExchange := make(map[string]types.ExchangePosition, len(exchangePositions))
	for _, ep := range exchangePositions {
		if ep.Size > 0 {
			onExchange[ep.Symbol] = ep
		}
	}

	for symbol := range l.positions {
		if _, ok := onExchange[symbol]; !ok {
			if l.log != nil {
				l.log.Warning("position %s in ledger but not on exchange, dropping", symbol)
			}
			delete(l.positions, symbol)
		}
	}

	for symbol, ep := range onExchange {
		if _, ok := l.positions[symbol]; ok {
			continue
		}
		side := Long
		if ep.Side == "short" {
			side = Short
		}
		adopted, err := New(OpenParams{
			Symbol:     symbol,
			Side:       side,
			Category:   "unknown",
			EntryPrice: ep.EntryPrice,
			SizeUSD:    ep.Size * ep.EntryPrice / maxf(ep.Leverage, 1),
			Leverage:   maxf(ep.Leverage, 1),
			Strategy:   "adopted",
		}, l.cfg)
		if err != nil {
			if l.log != nil {
				l.log.Error("failed to adopt exchange position %s: %v", symbol, err)
			}
			continue
		}
		l.positions[symbol] = adopted
		if l.log != nil {
			l.log.Warning("adopted untracked exchange position %s %s @ %.4f", side, symbol, ep.EntryPrice)
		}
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
