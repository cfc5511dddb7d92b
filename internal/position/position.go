package position

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ducle1408/futures-sentinel/internal/config"
	"github.com/ducle1408/futures-sentinel/internal/regime"
)

// Side is the direction of a position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// State is the lifecycle state of a position.
type State int

const (
	StateOpening State = iota
	StateOpen
	StateScalingIn
	StateScalingOut
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateScalingIn:
		return "scaling_in"
	case StateScalingOut:
		return "scaling_out"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason names the condition that ended a position. Conditions are
// evaluated in a fixed priority order; the first match wins.
type CloseReason string

const (
	CloseStopLoss         CloseReason = "stop_loss"
	CloseTakeProfit       CloseReason = "take_profit"
	CloseTrailingStop     CloseReason = "trailing_stop"
	CloseMomentumReversal CloseReason = "momentum_reversal"
	CloseStalled          CloseReason = "stalled"
	CloseExhaustion       CloseReason = "exhaustion"
	CloseManual           CloseReason = "manual"
	CloseKillSwitch       CloseReason = "kill_switch"
	CloseShutdown         CloseReason = "shutdown"
)

// MarketTick is the per-symbol market context a supervision refresh needs.
// Zero-valued fields mean "no data"; refresh degrades to conservative
// behavior rather than erroring.
type MarketTick struct {
	Price         float64
	ATR           float64
	TrendStrength float64 // share of rising closes in [0, 1]
	RSI           float64
	VolumeRatio   float64 // current volume / rolling average
	At            time.Time
}

// Position is the per-symbol state machine. All mutation goes through the
// ledger; no other component holds a mutable reference across ticks.
type Position struct {
	Symbol   string
	Side     Side
	Category string

	// Immutable at open.
	EntryTime   time.Time
	Leverage    float64
	InitialSize float64
	Strategy    string
	EntryRegime regime.Regime

	// Mutable under ledger lock.
	state        State
	entryPrice   float64 // volume-weighted, recomputed on scale events
	sizeUSD      float64
	stopLoss     float64
	initialStop  float64
	takeProfit   float64
	highestPrice float64
	lowestPrice  float64
	lastPrice    float64
	peakPnLPct   float64
	scaleIns     int
	scaleOuts    int
	lastMove     time.Time // last time price left the stall band
	trailArmed   bool      // some profit banked; trailing exit may fire
}

// OpenParams collects everything needed to construct a position.
type OpenParams struct {
	Symbol     string
	Side       Side
	Category   string
	EntryPrice float64
	SizeUSD    float64
	Leverage   float64
	ATR        float64
	Regime     regime.Regime
	Strategy   string
	Now        time.Time
}

// New creates a position in the Open state with its protective levels set.
// The initial stop distance is ATR scaled by the regime multiplier table,
// clamped so the leveraged loss at the stop can never exceed the
// configured cap.
func New(p OpenParams, cfg config.PositionConfig) (*Position, error) {
	if p.Symbol == "" || p.EntryPrice <= 0 || p.SizeUSD <= 0 {
		return nil, fmt.Errorf("invalid open params: symbol=%q entry=%.4f size=%.2f", p.Symbol, p.EntryPrice, p.SizeUSD)
	}
	if p.Side != Long && p.Side != Short {
		return nil, fmt.Errorf("invalid side %q", p.Side)
	}
	if p.Leverage <= 0 {
		p.Leverage = 1
	}
	if p.Now.IsZero() {
		p.Now = time.Now()
	}

	stopDistance := p.ATR * stopATRMultiplier(cfg.StopATR, p.Regime)
	if stopDistance <= 0 {
		// No volatility data: fall back to the loss cap distance.
		stopDistance = p.EntryPrice * cfg.MaxStopLossPct / 100 / p.Leverage
	}

	// Leveraged loss at the stop must stay within the cap.
	maxDistance := p.EntryPrice * cfg.MaxStopLossPct / 100 / p.Leverage
	if stopDistance > maxDistance {
		stopDistance = maxDistance
	}

	pos := &Position{
		Symbol:       p.Symbol,
		Side:         p.Side,
		Category:     p.Category,
		EntryTime:    p.Now,
		Leverage:     p.Leverage,
		InitialSize:  p.SizeUSD,
		Strategy:     p.Strategy,
		EntryRegime:  p.Regime,
		state:        StateOpen,
		entryPrice:   p.EntryPrice,
		sizeUSD:      p.SizeUSD,
		highestPrice: p.EntryPrice,
		lowestPrice:  p.EntryPrice,
		lastPrice:    p.EntryPrice,
		lastMove:     p.Now,
	}

	tp := p.EntryPrice * cfg.TakeProfitPct / 100
	if p.Side == Long {
		pos.stopLoss = p.EntryPrice - stopDistance
		pos.takeProfit = p.EntryPrice + tp
	} else {
		pos.stopLoss = p.EntryPrice + stopDistance
		pos.takeProfit = p.EntryPrice - tp
	}
	pos.initialStop = pos.stopLoss

	return pos, nil
}

func stopATRMultiplier(m config.StopATRMultipliers, r regime.Regime) float64 {
	switch r {
	case regime.Bull:
		return m.Bull
	case regime.Bear:
		return m.Bear
	case regime.HighVol:
		return m.HighVol
	case regime.LowVol:
		return m.LowVol
	default:
		return m.Neutral
	}
}

// State returns the lifecycle state.
func (p *Position) State() State { return p.state }

// EntryPrice returns the current volume-weighted entry.
func (p *Position) EntryPrice() float64 { return p.entryPrice }

// SizeUSD returns the current notional size.
func (p *Position) SizeUSD() float64 { return p.sizeUSD }

// StopLoss returns the current protective stop.
func (p *Position) StopLoss() float64 { return p.stopLoss }

// TakeProfit returns the current profit target.
func (p *Position) TakeProfit() float64 { return p.takeProfit }

// LastPrice returns the most recently observed price.
func (p *Position) LastPrice() float64 { return p.lastPrice }

// ScaleIns returns how many add-on buys have been executed.
func (p *Position) ScaleIns() int { return p.scaleIns }

// ScaleOuts reports how many partial reductions have been taken.
func (p *Position) ScaleOuts() int { return p.scaleOuts }

// PnLPct returns the leveraged unrealized P/L percentage at the given
// price.
func (p *Position) PnLPct(price float64) float64 {
	if p.entryPrice <= 0 || price <= 0 {
		return 0
	}
	move := (price - p.entryPrice) / p.entryPrice
	if p.Side == Short {
		move = -move
	}
	return move * p.Leverage * 100
}

// PnLUSD returns the unrealized P/L in dollars at the given price.
// SizeUSD is the margin committed, so the leveraged percentage applies
// directly.
func (p *Position) PnLUSD(price float64) float64 {
	return p.sizeUSD * p.PnLPct(price) / 100
}

// Refresh is one supervision tick: update extremes, advance the trailing
// stop (monotone, never loosens), push the take-profit outward on strong
// trend, then evaluate close conditions in priority order. Returns the
// close reason and true when a condition fired; the caller transitions the
// position to Closing.
func (p *Position) Refresh(tick MarketTick, cfg config.PositionConfig) (CloseReason, bool) {
	if p.state != StateOpen || tick.Price <= 0 {
		return "", false
	}
	if tick.At.IsZero() {
		tick.At = time.Now()
	}

	p.lastPrice = tick.Price
	if tick.Price > p.highestPrice {
		p.highestPrice = tick.Price
	}
	if tick.Price < p.lowestPrice {
		p.lowestPrice = tick.Price
	}

	pnl := p.PnLPct(tick.Price)
	if pnl > p.peakPnLPct {
		p.peakPnLPct = pnl
	}
	if pnl >= cfg.TrailingActivatePct {
		p.trailArmed = true
	}
	if math.Abs(pnl) >= cfg.StallBandPct {
		p.lastMove = tick.At
	}

	p.advanceTrailingStop(tick, cfg)
	p.extendTakeProfit(tick, cfg)

	return p.checkCloseConditions(tick, cfg, pnl)
}

// advanceTrailingStop moves the stop toward price by the volatility-scaled
// distance. Longs only ratchet up, shorts only ratchet down.
func (p *Position) advanceTrailingStop(tick MarketTick, cfg config.PositionConfig) {
	if tick.ATR <= 0 {
		return
	}
	distance := tick.ATR * stopATRMultiplier(cfg.StopATR, p.EntryRegime)

	if p.Side == Long {
		if candidate := p.highestPrice - distance; candidate > p.stopLoss {
			p.stopLoss = candidate
		}
	} else {
		if candidate := p.lowestPrice + distance; candidate < p.stopLoss {
			p.stopLoss = candidate
		}
	}
}

// extendTakeProfit pushes the target outward while trend strength signals
// continuation. The target only ever moves away from entry.
func (p *Position) extendTakeProfit(tick MarketTick, cfg config.PositionConfig) {
	if cfg.TPExtendStepPct <= 0 {
		return
	}

	step := p.entryPrice * cfg.TPExtendStepPct / 100
	if p.Side == Long {
		if tick.TrendStrength >= cfg.TPExtendStrength && tick.Price >= p.takeProfit-step {
			p.takeProfit += step
		}
	} else {
		// For shorts continuation means falling closes.
		if (1-tick.TrendStrength) >= cfg.TPExtendStrength && tick.Price <= p.takeProfit+step {
			p.takeProfit -= step
		}
	}
}

func (p *Position) checkCloseConditions(tick MarketTick, cfg config.PositionConfig, pnl float64) (CloseReason, bool) {
	breached := (p.Side == Long && tick.Price <= p.stopLoss) ||
		(p.Side == Short && tick.Price >= p.stopLoss)
	hardBreached := (p.Side == Long && tick.Price <= p.initialStop) ||
		(p.Side == Short && tick.Price >= p.initialStop)
	targetHit := (p.Side == Long && tick.Price >= p.takeProfit) ||
		(p.Side == Short && tick.Price <= p.takeProfit)

	// (a) hard stop-loss
	if hardBreached {
		return CloseStopLoss, true
	}
	// (b) take-profit
	if targetHit {
		return CloseTakeProfit, true
	}
	// (c) trailing stop, only once some profit has been banked
	if breached {
		if p.trailArmed {
			return CloseTrailingStop, true
		}
		return CloseStopLoss, true
	}
	// (d) momentum reversal at profit: meaningful give-back from the peak
	// while the trend has flipped against us.
	if pnl > 0 && p.peakPnLPct-pnl >= cfg.ReversalDropPct {
		against := (p.Side == Long && tick.TrendStrength < 0.4) ||
			(p.Side == Short && tick.TrendStrength > 0.6)
		if against {
			return CloseMomentumReversal, true
		}
	}
	// (e) stalled-position timeout
	if !p.lastMove.IsZero() && tick.At.Sub(p.lastMove) >= time.Duration(cfg.StallHours*float64(time.Hour)) {
		if math.Abs(pnl) < cfg.StallBandPct {
			return CloseStalled, true
		}
	}
	// (f) exhaustion: extreme oscillator + weakening volume at profit.
	if pnl >= cfg.ExhaustionMinProfitPct && tick.VolumeRatio > 0 && tick.VolumeRatio < cfg.ExhaustionVolRatio {
		overextended := (p.Side == Long && tick.RSI >= cfg.ExhaustionRSI) ||
			(p.Side == Short && tick.RSI <= 100-cfg.ExhaustionRSI)
		if overextended {
			return CloseExhaustion, true
		}
	}

	return "", false
}

// ScaleIn adds to the position at the given price, recomputing the
// volume-weighted entry. Identity and protective levels survive.
func (p *Position) ScaleIn(addUSD, price float64, cfg config.PositionConfig) error {
	if p.state != StateOpen {
		return fmt.Errorf("cannot scale into %s position %s", p.state, p.Symbol)
	}
	if addUSD <= 0 || price <= 0 {
		return fmt.Errorf("invalid scale-in: add=%.2f price=%.4f", addUSD, price)
	}
	if p.scaleIns >= cfg.MaxScaleIns {
		return fmt.Errorf("scale-in limit reached for %s: %d", p.Symbol, cfg.MaxScaleIns)
	}

	p.state = StateScalingIn
	p.entryPrice = (p.entryPrice*p.sizeUSD + price*addUSD) / (p.sizeUSD + addUSD)
	p.sizeUSD += addUSD
	p.scaleIns++
	p.state = StateOpen
	return nil
}

// ScaleOut removes a fraction of the position at the given price, banking
// partial profit. Returns the realized P/L in dollars for the removed
// portion.
func (p *Position) ScaleOut(fraction, price float64) (float64, error) {
	if p.state != StateOpen {
		return 0, fmt.Errorf("cannot scale out of %s position %s", p.state, p.Symbol)
	}
	if fraction <= 0 || fraction >= 1 || price <= 0 {
		return 0, fmt.Errorf("invalid scale-out: fraction=%.2f price=%.4f", fraction, price)
	}

	p.state = StateScalingOut
	removed := p.sizeUSD * fraction
	realized := removed * p.PnLPct(price) / 100
	p.sizeUSD -= removed
	p.scaleOuts++
	p.state = StateOpen
	return realized, nil
}

// RealizedTrade is the record emitted when a position closes, consumed by
// risk accounting, the trade journal, and external analytics.
type RealizedTrade struct {
	ID        string        `json:"id"`
	Symbol    string        `json:"symbol"`
	Side      Side          `json:"side"`
	Entry     float64       `json:"entry"`
	Exit      float64       `json:"exit"`
	SizeUSD   float64       `json:"size_usd"`
	Leverage  float64       `json:"leverage"`
	PnLUSD    float64       `json:"pnl_usd"`
	PnLPct    float64       `json:"pnl_pct"`
	Duration  time.Duration `json:"duration"`
	Strategy  string        `json:"strategy"`
	Regime    string        `json:"regime"`
	Reason    CloseReason   `json:"reason"`
	EntryTime time.Time     `json:"entry_time"`
	ExitTime  time.Time     `json:"exit_time"`
}

// close transitions Closing -> Closed and emits the realized-trade record.
// Ledger-internal; external callers go through Ledger.Close.
func (p *Position) close(exitPrice float64, reason CloseReason, now time.Time) RealizedTrade {
	if now.IsZero() {
		now = time.Now()
	}
	p.state = StateClosing

	pnlPct := p.PnLPct(exitPrice)
	trade := RealizedTrade{
		ID:        uuid.NewString(),
		Symbol:    p.Symbol,
		Side:      p.Side,
		Entry:     p.entryPrice,
		Exit:      exitPrice,
		SizeUSD:   p.sizeUSD,
		Leverage:  p.Leverage,
		PnLUSD:    p.sizeUSD * pnlPct / 100,
		PnLPct:    pnlPct,
		Duration:  now.Sub(p.EntryTime),
		Strategy:  p.Strategy,
		Regime:    p.EntryRegime.String(),
		Reason:    reason,
		EntryTime: p.EntryTime,
		ExitTime:  now,
	}

	p.state = StateClosed
	return trade
}

// Snapshot is the persistable view of a position, sufficient to resume
// supervision after a restart.
type Snapshot struct {
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Category     string    `json:"category"`
	EntryPrice   float64   `json:"entry_price"`
	SizeUSD      float64   `json:"size_usd"`
	InitialSize  float64   `json:"initial_size"`
	Leverage     float64   `json:"leverage"`
	StopLoss     float64   `json:"stop_loss"`
	InitialStop  float64   `json:"initial_stop"`
	TakeProfit   float64   `json:"take_profit"`
	HighestPrice float64   `json:"highest_price"`
	LowestPrice  float64   `json:"lowest_price"`
	PeakPnLPct   float64   `json:"peak_pnl_pct"`
	ScaleIns     int       `json:"scale_ins"`
	ScaleOuts    int       `json:"scale_outs"`
	TrailArmed   bool      `json:"trail_armed"`
	Strategy     string    `json:"strategy"`
	Regime       string    `json:"regime"`
	EntryTime    time.Time `json:"entry_time"`
	LastMove     time.Time `json:"last_move"`
}

// Snapshot captures the position for persistence.
func (p *Position) Snapshot() Snapshot {
	return Snapshot{
		Symbol:       p.Symbol,
		Side:         p.Side,
		Category:     p.Category,
		EntryPrice:   p.entryPrice,
		SizeUSD:      p.sizeUSD,
		InitialSize:  p.InitialSize,
		Leverage:     p.Leverage,
		StopLoss:     p.stopLoss,
		InitialStop:  p.initialStop,
		TakeProfit:   p.takeProfit,
		HighestPrice: p.highestPrice,
		LowestPrice:  p.lowestPrice,
		PeakPnLPct:   p.peakPnLPct,
		ScaleIns:     p.scaleIns,
		ScaleOuts:    p.scaleOuts,
		TrailArmed:   p.trailArmed,
		Strategy:     p.Strategy,
		Regime:       p.EntryRegime.String(),
		EntryTime:    p.EntryTime,
		LastMove:     p.lastMove,
	}
}

// FromSnapshot reconstructs a position from a persisted snapshot.
func FromSnapshot(s Snapshot) *Position {
	return &Position{
		Symbol:       s.Symbol,
		Side:         s.Side,
		Category:     s.Category,
		EntryTime:    s.EntryTime,
		Leverage:     s.Leverage,
		InitialSize:  s.InitialSize,
		Strategy:     s.Strategy,
		EntryRegime:  regime.ParseRegime(s.Regime),
		state:        StateOpen,
		entryPrice:   s.EntryPrice,
		sizeUSD:      s.SizeUSD,
		stopLoss:     s.StopLoss,
		initialStop:  s.InitialStop,
		takeProfit:   s.TakeProfit,
		highestPrice: s.HighestPrice,
		lowestPrice:  s.LowestPrice,
		lastPrice:    s.EntryPrice,
		peakPnLPct:   s.PeakPnLPct,
		scaleIns:     s.ScaleIns,
		scaleOuts:    s.ScaleOuts,
		trailArmed:   s.TrailArmed,
		lastMove:     s.LastMove,
	}
}
