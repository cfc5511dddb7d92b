package scanner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ducle1408/futures-sentinel/internal/config"
	"github.com/ducle1408/futures-sentinel/internal/exchange"
	"github.com/ducle1408/futures-sentinel/internal/logger"
	"github.com/ducle1408/futures-sentinel/internal/regime"
	"github.com/ducle1408/futures-sentinel/pkg/types"
)

// SignalSource evaluates one symbol's market data and either produces an
// opportunity or reports no signal.
type SignalSource interface {
	Name() string
	Evaluate(symbol, category string, data []types.OHLCV, now time.Time) (*Opportunity, bool)
}

// Scanner sweeps the configured universe on the scanning cadence,
// evaluating every signal source against every symbol. One failing symbol
// never aborts the sweep.
type Scanner struct {
	market   exchange.MarketData
	sources  []SignalSource
	cache    *Cache
	trading  config.TradingConfig
	interval string
	lookback int
	log      *logger.Logger
}

// NewScanner wires a scanner over the given market data client and signal
// sources.
func NewScanner(market exchange.MarketData, sources []SignalSource, cache *Cache, trading config.TradingConfig, log *logger.Logger) *Scanner {
	lookback := trading.KlineLimit
	if lookback <= 0 {
		lookback = 100
	}
	return &Scanner{
		market:   market,
		sources:  sources,
		cache:    cache,
		trading:  trading,
		interval: trading.KlineInterval,
		lookback: lookback,
		log:      log,
	}
}

// Scan evaluates the whole universe once and atomically replaces the
// opportunity cache with the results.
func (s *Scanner) Scan(ctx context.Context) error {
	now := time.Now()
	var found []Opportunity
	var failures int

	for _, symbol := range s.trading.Symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		data, err := s.market.GetKlines(ctx, symbol, s.interval, s.lookback)
		if err != nil {
			failures++
			s.log.Warning("scan %s: klines fetch failed: %v", symbol, err)
			continue
		}

		category := s.trading.Category(symbol)
		for _, src := range s.sources {
			opp, ok := src.Evaluate(symbol, category, data, now)
			if !ok {
				continue
			}
			found = append(found, *opp)
			s.log.Debug("scan %s: %s signal %s score=%.2f conf=%.2f", symbol, src.Name(), opp.Direction, opp.Score, opp.Confidence)
		}
	}

	if failures == len(s.trading.Symbols) && len(s.trading.Symbols) > 0 {
		return fmt.Errorf("scan failed for all %d symbols", failures)
	}

	s.cache.Replace(found, now)
	s.log.Info("scan complete: %d opportunities across %d symbols (%d fetch failures)",
		len(found), len(s.trading.Symbols), failures)
	return nil
}

// TrendMomentumSource is the default signal source: it trades in the
// direction of an established trend when momentum has not yet reached an
// extreme, scoring by trend strength and distance from overbought or
// oversold territory.
type TrendMomentumSource struct {
	detector *regime.Detector
	cfg      TrendMomentumConfig
}

// TrendMomentumConfig tunes the default signal source.
type TrendMomentumConfig struct {
	RSIPeriod      int
	RSIOverbought  float64
	RSIOversold    float64
	ATRPeriod      int
	MinTrendLength int
}

// DefaultTrendMomentumConfig returns the standard tuning.
func DefaultTrendMomentumConfig() TrendMomentumConfig {
	return TrendMomentumConfig{
		RSIPeriod:      14,
		RSIOverbought:  70,
		RSIOversold:    30,
		ATRPeriod:      14,
		MinTrendLength: 30,
	}
}

// NewTrendMomentumSource builds the default source over a regime detector.
func NewTrendMomentumSource(detector *regime.Detector, cfg TrendMomentumConfig) *TrendMomentumSource {
	return &TrendMomentumSource{detector: detector, cfg: cfg}
}

func (t *TrendMomentumSource) Name() string { return "trend_momentum" }

// Evaluate looks for trend continuation entries. High-volatility regimes
// produce no signal; choppy markets are sat out.
func (t *TrendMomentumSource) Evaluate(symbol, category string, data []types.OHLCV, now time.Time) (*Opportunity, bool) {
	if len(data) < t.cfg.MinTrendLength {
		return nil, false
	}

	r := t.detector.Detect(data)
	if r == regime.HighVol {
		return nil, false
	}

	rsi := regime.RSI(data, t.cfg.RSIPeriod)
	atr := regime.ATR(data, t.cfg.ATRPeriod)
	strength := t.detector.TrendStrength(data)
	price := data[len(data)-1].Close
	if price <= 0 {
		return nil, false
	}

	var direction Direction
	var headroom float64
	switch {
	case r == regime.Bull && rsi < t.cfg.RSIOverbought:
		direction = DirectionLong
		headroom = (t.cfg.RSIOverbought - rsi) / t.cfg.RSIOverbought
	case r == regime.Bear && rsi > t.cfg.RSIOversold:
		direction = DirectionShort
		headroom = (rsi - t.cfg.RSIOversold) / (100 - t.cfg.RSIOversold)
	default:
		return nil, false
	}

	directional := strength
	if direction == DirectionShort {
		directional = 1 - strength
	}

	score := directional*0.6 + headroom*0.4
	confidence := math.Min(1, directional*0.7+headroom*0.3)

	return &Opportunity{
		Symbol:     symbol,
		Category:   category,
		Direction:  direction,
		Score:      score,
		Confidence: confidence,
		Price:      price,
		ATR:        atr,
		Regime:     r.String(),
		Rationale: fmt.Sprintf("regime=%s trend=%.2f rsi=%.1f headroom=%.2f",
			r, strength, rsi, headroom),
		ScannedAt: now,
	}, true
}
