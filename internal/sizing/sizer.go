package sizing

import (
	"math"

	"github.com/ducle1408/futures-sentinel/internal/config"
	"github.com/ducle1408/futures-sentinel/internal/regime"
)

// Context is the full input a sizing call needs. Pure input: given the same
// Context, every sizer returns the same Result.
type Context struct {
	Balance    float64
	WinRate    float64
	AvgWin     float64 // average winning magnitude as a fraction, e.g. 0.04
	AvgLoss    float64 // average losing magnitude as a fraction, e.g. 0.02
	Confidence float64 // signal confidence in [0, 1]
	Regime     regime.Regime
	Volatility float64 // ATR / price

	// Rolling history, for strategy selection and the Bayesian posterior.
	TradeCount   int
	WindowWins   int
	WindowLosses int

	// Average |correlation| with currently open positions.
	AvgCorrelation float64
}

// Result is a bounded order size with the reasoning that produced it.
type Result struct {
	AmountUSD float64
	Leverage  float64
	Fraction  float64 // balance fraction before leverage
	Rationale string
}

// Sizer converts a Context into a bounded position size. Implementations
// never fail: missing or invalid input produces the minimum conservative
// size, not an error.
type Sizer interface {
	Name() string
	Size(ctx Context) Result
}

// Select picks the sizing strategy for the available trade history:
// Bayesian with enough history to trust a posterior, regime-aware Kelly
// with a modest record, fixed-fractional otherwise.
func Select(cfg config.SizingConfig, tradeCount int) Sizer {
	switch {
	case tradeCount >= cfg.BayesianMinTrades:
		return NewBayesianKelly(cfg)
	case tradeCount >= cfg.RegimeKellyMinTrades:
		return NewRegimeKelly(cfg)
	default:
		return NewFixedFractional(cfg)
	}
}

// regimeMultiplier looks up the sizing multiplier for a regime.
func regimeMultiplier(m config.RegimeMultipliers, r regime.Regime) float64 {
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

// confidenceMultiplier scales linearly from 0.5 at zero confidence to 1.0
// at full confidence. Out-of-range input is clamped first.
func confidenceMultiplier(confidence float64) float64 {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return 0.5 + 0.5*confidence
}

// clampFraction bounds a balance fraction to the configured band.
func clampFraction(f float64, cfg config.SizingConfig) float64 {
	return math.Min(math.Max(f, cfg.MinFraction), cfg.MaxFraction)
}

// conservativeFallback is what every sizer returns when its inputs are
// unusable: the minimum of the band, floored at the fee-efficiency minimum.
func conservativeFallback(balance float64, cfg config.SizingConfig, why string) Result {
	amount := balance * cfg.MinFraction
	if amount < cfg.MinOrderUSD {
		amount = cfg.MinOrderUSD
	}
	return Result{
		AmountUSD: amount,
		Leverage:  1,
		Fraction:  cfg.MinFraction,
		Rationale: "conservative fallback: " + why,
	}
}

// finalize converts a clamped fraction into a Result, applying the
// fee-efficiency floor.
func finalize(balance, fraction, leverage float64, cfg config.SizingConfig, rationale string) Result {
	amount := balance * fraction
	if amount < cfg.MinOrderUSD {
		amount = cfg.MinOrderUSD
	}
	if leverage <= 0 {
		leverage = 1
	}
	if leverage > cfg.MaxLeverage {
		leverage = cfg.MaxLeverage
	}
	return Result{
		AmountUSD: amount,
		Leverage:  leverage,
		Fraction:  fraction,
		Rationale: rationale,
	}
}
