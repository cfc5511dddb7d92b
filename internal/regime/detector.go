package regime

import (
	"math"

	"github.com/ducle1408/futures-sentinel/pkg/types"
)

// Regime is a coarse market-condition classification used to adjust sizing
// and stop distances.
type Regime int

const (
	Neutral Regime = iota
	Bull
	Bear
	HighVol
	LowVol
)

func (r Regime) String() string {
	switch r {
	case Bull:
		return "bull"
	case Bear:
		return "bear"
	case HighVol:
		return "high_vol"
	case LowVol:
		return "low_vol"
	case Neutral:
		return "neutral"
	default:
		return "unknown"
	}
}

// ParseRegime maps a persisted regime tag back to its value. Unknown tags
// fall back to Neutral, the most moderate setting.
func ParseRegime(s string) Regime {
	switch s {
	case "bull":
		return Bull
	case "bear":
		return Bear
	case "high_vol":
		return HighVol
	case "low_vol":
		return LowVol
	default:
		return Neutral
	}
}

// DetectorConfig holds regime classification thresholds.
type DetectorConfig struct {
	TrendPeriod        int     // candles used for trend analysis
	TrendStrengthMin   float64 // share of higher closes for a trend call
	TrendMovePctMin    float64 // net move over the period for a trend call
	VolatilityLookback int     // candles used for the ATR percentile
	LowVolPercentile   float64
	HighVolPercentile  float64
}

// DefaultDetectorConfig returns thresholds tuned for hourly crypto candles.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		TrendPeriod:        20,
		TrendStrengthMin:   0.60,
		TrendMovePctMin:    3.0,
		VolatilityLookback: 50,
		LowVolPercentile:   0.25,
		HighVolPercentile:  0.80,
	}
}

// Detector classifies market conditions from OHLCV history. Volatility
// extremes outrank direction: a market can be trending and still too wild
// to size normally.
type Detector struct {
	config DetectorConfig
}

// NewDetector creates a regime detector. A zero-value config is replaced
// with defaults.
func NewDetector(config DetectorConfig) *Detector {
	if config.TrendPeriod == 0 {
		config = DefaultDetectorConfig()
	}
	return &Detector{config: config}
}

// Detect classifies the current regime. Insufficient history returns
// Neutral, the conservative middle ground.
func (d *Detector) Detect(data []types.OHLCV) Regime {
	if len(data) < d.config.TrendPeriod+1 {
		return Neutral
	}

	atr := ATR(data, 14)

	if len(data) >= d.config.VolatilityLookback {
		pct := d.atrPercentile(data, atr)
		if pct >= d.config.HighVolPercentile {
			return HighVol
		}
		if pct <= d.config.LowVolPercentile {
			return LowVol
		}
	}

	recent := data[len(data)-d.config.TrendPeriod:]
	startPrice := recent[0].Close
	endPrice := recent[len(recent)-1].Close
	if startPrice <= 0 {
		return Neutral
	}
	movePct := (endPrice - startPrice) / startPrice * 100

	higherCloses := 0
	for i := 1; i < len(recent); i++ {
		if recent[i].Close > recent[i-1].Close {
			higherCloses++
		}
	}
	strength := float64(higherCloses) / float64(len(recent)-1)

	if movePct >= d.config.TrendMovePctMin && strength >= d.config.TrendStrengthMin {
		return Bull
	}
	if movePct <= -d.config.TrendMovePctMin && (1-strength) >= d.config.TrendStrengthMin {
		return Bear
	}
	return Neutral
}

// TrendStrength returns the share of rising closes over the trend period,
// in [0, 1]. Used by position supervision to decide whether to push the
// take-profit outward.
func (d *Detector) TrendStrength(data []types.OHLCV) float64 {
	if len(data) < d.config.TrendPeriod+1 {
		return 0.5
	}
	recent := data[len(data)-d.config.TrendPeriod:]
	higherCloses := 0
	for i := 1; i < len(recent); i++ {
		if recent[i].Close > recent[i-1].Close {
			higherCloses++
		}
	}
	return float64(higherCloses) / float64(len(recent)-1)
}

// atrPercentile returns where the current ATR sits inside the lookback
// distribution of true ranges.
func (d *Detector) atrPercentile(data []types.OHLCV, currentATR float64) float64 {
	lookback := data[len(data)-d.config.VolatilityLookback:]

	countBelow := 0
	total := 0
	for i := 1; i < len(lookback); i++ {
		tr := trueRange(lookback[i], lookback[i-1])
		total++
		if tr < currentATR {
			countBelow++
		}
	}
	if total == 0 {
		return 0.5
	}
	return float64(countBelow) / float64(total)
}

// ATR computes the average true range over the trailing period. Returns 0
// when there is not enough history; callers must degrade to conservative
// defaults rather than treat that as a signal.
func ATR(data []types.OHLCV, period int) float64 {
	if len(data) < period+1 {
		return 0
	}

	sum := 0.0
	for i := len(data) - period; i < len(data); i++ {
		sum += trueRange(data[i], data[i-1])
	}
	return sum / float64(period)
}

func trueRange(current, previous types.OHLCV) float64 {
	tr1 := current.High - current.Low
	tr2 := math.Abs(current.High - previous.Close)
	tr3 := math.Abs(current.Low - previous.Close)
	return math.Max(tr1, math.Max(tr2, tr3))
}

// RSI computes the relative strength index over the trailing period, used
// by the exhaustion close condition. Returns 50 (no signal) when history is
// short.
func RSI(data []types.OHLCV, period int) float64 {
	if len(data) < period+1 {
		return 50
	}

	gains, losses := 0.0, 0.0
	for i := len(data) - period; i < len(data); i++ {
		change := data[i].Close - data[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}
