package config

import (
	"fmt"
	"time"
)

// Config is the full controller configuration. Every tunable the risk,
// sizing, and position layers consult lives here as a named field with an
// explicit default; nothing is read from loose maps at runtime.
type Config struct {
	Exchange      ExchangeConfig      `toml:"exchange"`
	Trading       TradingConfig       `toml:"trading"`
	Risk          RiskConfig          `toml:"risk"`
	Sizing        SizingConfig        `toml:"sizing"`
	Position      PositionConfig      `toml:"position"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	State         StateConfig         `toml:"state"`
	Journal       JournalConfig       `toml:"journal"`
	Monitoring    MonitoringConfig    `toml:"monitoring"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// ExchangeConfig holds venue connection settings.
type ExchangeConfig struct {
	Name      string `toml:"name"`       // "bybit" or "paper"
	Category  string `toml:"category"`   // "linear" for USDT perpetuals
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	Testnet   bool   `toml:"testnet"`
	Demo      bool   `toml:"demo"`
}

// TradingConfig holds the symbol universe and market data settings.
type TradingConfig struct {
	Symbols       []string `toml:"symbols"`        // scan universe
	KlineInterval string   `toml:"kline_interval"` // e.g. "60" (minutes, Bybit notation)
	KlineLimit    int      `toml:"kline_limit"`

	// Category per symbol for concentration checks. Symbols absent from the
	// map fall into the "unknown" category, which is exempt from the group
	// concentration guardrail.
	SymbolCategories map[string]string `toml:"symbol_categories"`
}

// RiskConfig holds the guardrail limits. The guardrail engine evaluates
// these in a fixed order; see risk.Guardrails.
type RiskConfig struct {
	DailyLossCapPct      float64 `toml:"daily_loss_cap_pct"`     // deny new trades past this daily loss
	SevereLossMultiplier float64 `toml:"severe_loss_multiplier"` // kill switch at cap * multiplier
	FlattenOnKillSwitch  bool    `toml:"flatten_on_kill_switch"` // close everything when the switch trips
	MaxOpenPositions     int     `toml:"max_open_positions"`
	MaxPositionValuePct  float64 `toml:"max_position_value_pct"` // per-trade value cap, % of balance
	HeatCeiling          float64 `toml:"heat_ceiling"`           // 0-100 portfolio heat ceiling
	ClockStalenessSec    int     `toml:"clock_staleness_sec"`    // max age of last clock sync
	MaxClockSkewMs       int64   `toml:"max_clock_skew_ms"`

	// Correlated-group concentration: how many open positions may share one
	// category, and the pairwise correlation thresholds used by sizing.
	CategoryGroupLimit  int     `toml:"category_group_limit"`
	CorrelationModerate float64 `toml:"correlation_moderate"`
	CorrelationHigh     float64 `toml:"correlation_high"`

	RecentOutcomeWindow int `toml:"recent_outcome_window"` // rolling trade-outcome capacity
}

// RegimeMultipliers maps each market regime to a sizing multiplier.
// High-volatility is the most conservative by design intent of the tables.
type RegimeMultipliers struct {
	Bull    float64 `toml:"bull"`
	Bear    float64 `toml:"bear"`
	Neutral float64 `toml:"neutral"`
	HighVol float64 `toml:"high_vol"`
	LowVol  float64 `toml:"low_vol"`
}

// SizingConfig holds the position-sizer tunables shared by all strategies.
type SizingConfig struct {
	RiskPerTradePct   float64           `toml:"risk_per_trade_pct"`  // fixed-fractional risk
	KellyBaseFraction float64           `toml:"kelly_base_fraction"` // conservative Kelly scale
	MinFraction       float64           `toml:"min_fraction"`        // hard clamp band, low
	MaxFraction       float64           `toml:"max_fraction"`        // hard clamp band, high
	MinOrderUSD       float64           `toml:"min_order_usd"`       // fee-efficiency floor
	Regime            RegimeMultipliers `toml:"regime_multipliers"`

	// Strategy selection thresholds by trade history depth.
	BayesianMinTrades    int `toml:"bayesian_min_trades"`
	RegimeKellyMinTrades int `toml:"regime_kelly_min_trades"`

	// Bayesian posterior settings.
	PriorWins         float64 `toml:"prior_wins"`   // Beta prior pseudo-counts
	PriorLosses       float64 `toml:"prior_losses"`
	ReliabilityTrades int     `toml:"reliability_trades"`

	// Correlation post-adjustment: size reduced up to MaxCorrelationCut as
	// average |corr| with open positions moves between the two thresholds.
	MaxCorrelationCut float64 `toml:"max_correlation_cut"`

	Leverage    float64 `toml:"leverage"`
	MaxLeverage float64 `toml:"max_leverage"`
}

// StopATRMultipliers maps market regime to the stop-distance multiplier
// applied to ATR. Tighter in trending bull markets, wider where chop is
// expected.
type StopATRMultipliers struct {
	Bull    float64 `toml:"bull"`
	Bear    float64 `toml:"bear"`
	Neutral float64 `toml:"neutral"`
	HighVol float64 `toml:"high_vol"`
	LowVol  float64 `toml:"low_vol"`
}

// PositionConfig holds the position state machine tunables. The stall and
// exhaustion thresholds are hand-tuned values carried over from live
// operation; override rather than re-derive.
type PositionConfig struct {
	StopATR             StopATRMultipliers `toml:"stop_atr_multipliers"`
	MaxStopLossPct      float64            `toml:"max_stop_loss_pct"`     // leveraged loss cap at the initial stop
	TakeProfitPct       float64            `toml:"take_profit_pct"`       // initial TP distance from entry
	TPExtendStrength    float64            `toml:"tp_extend_strength"`    // trend strength needed to push TP outward
	TPExtendStepPct     float64            `toml:"tp_extend_step_pct"`
	TrailingActivatePct float64            `toml:"trailing_activate_pct"` // profit banked before trailing exit arms

	StallHours             float64 `toml:"stall_hours"`               // position barely moved for this long
	StallBandPct           float64 `toml:"stall_band_pct"`            // "barely moved" band
	ExhaustionRSI          float64 `toml:"exhaustion_rsi"`            // extreme oscillator reading
	ExhaustionVolRatio     float64 `toml:"exhaustion_vol_ratio"`      // weakening volume vs average
	ExhaustionMinProfitPct float64 `toml:"exhaustion_min_profit_pct"`
	ReversalDropPct        float64 `toml:"reversal_drop_pct"`         // momentum give-back from peak at profit

	MaxScaleIns    int     `toml:"max_scale_ins"`
	ScaleInStepPct float64 `toml:"scale_in_step_pct"` // adverse move per DCA add
	ScaleInSizePct float64 `toml:"scale_in_size_pct"` // add size as % of initial

	PartialTakePct      float64 `toml:"partial_take_pct"`      // leveraged profit that banks a partial; 0 disables
	PartialTakeFraction float64 `toml:"partial_take_fraction"` // share of the position reduced
}

// SchedulerConfig holds the loop cadences. Supervision must outrank
// scanning: it starts first with a head start and stops last.
type SchedulerConfig struct {
	SupervisionIntervalSec  int     `toml:"supervision_interval_sec"`
	ScanIntervalSec         int     `toml:"scan_interval_sec"`
	CoordinatorIntervalSec  int     `toml:"coordinator_interval_sec"`
	PersistIntervalSec      int     `toml:"persist_interval_sec"`
	WatchdogIntervalSec     int     `toml:"watchdog_interval_sec"`
	SupervisionHeadStartSec int     `toml:"supervision_head_start_sec"`
	StalenessMultiplier     float64 `toml:"staleness_multiplier"` // opportunities older than scan interval * this are discarded
	MinConfidence           float64 `toml:"min_confidence"`       // base adaptive confidence threshold
}

// StateConfig holds snapshot persistence settings.
type StateConfig struct {
	Dir string `toml:"dir"`
}

// JournalConfig holds trade journal output settings.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// MonitoringConfig holds the metrics/health HTTP listener settings.
type MonitoringConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// NotificationsConfig holds Telegram alert settings.
type NotificationsConfig struct {
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
}

// Defaults returns the built-in configuration a fresh deployment starts
// from. Load merges the TOML file and environment overrides on top.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Name:     "bybit",
			Category: "linear",
			Testnet:  false,
			Demo:     true,
		},
		Trading: TradingConfig{
			Symbols:       []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
			KlineInterval: "60",
			KlineLimit:    100,
			SymbolCategories: map[string]string{
				"BTCUSDT": "major",
				"ETHUSDT": "major",
				"SOLUSDT": "layer1",
			},
		},
		Risk: RiskConfig{
			DailyLossCapPct:      3.0,
			SevereLossMultiplier: 1.5,
			FlattenOnKillSwitch:  true,
			MaxOpenPositions:     5,
			MaxPositionValuePct:  25.0,
			HeatCeiling:          80.0,
			ClockStalenessSec:    300,
			MaxClockSkewMs:       1000,
			CategoryGroupLimit:   2,
			CorrelationModerate:  0.4,
			CorrelationHigh:      0.7,
			RecentOutcomeWindow:  50,
		},
		Sizing: SizingConfig{
			RiskPerTradePct:   2.0,
			KellyBaseFraction: 0.25,
			MinFraction:       0.05,
			MaxFraction:       0.35,
			MinOrderUSD:       10.0,
			Regime: RegimeMultipliers{
				Bull:    1.0,
				Bear:    0.6,
				Neutral: 0.8,
				HighVol: 0.4,
				LowVol:  0.9,
			},
			BayesianMinTrades:    30,
			RegimeKellyMinTrades: 20,
			PriorWins:            3,
			PriorLosses:          3,
			ReliabilityTrades:    30,
			MaxCorrelationCut:    0.40,
			Leverage:             5.0,
			MaxLeverage:          20.0,
		},
		Position: PositionConfig{
			StopATR: StopATRMultipliers{
				Bull:    1.5,
				Bear:    2.5,
				Neutral: 2.0,
				HighVol: 3.0,
				LowVol:  1.2,
			},
			MaxStopLossPct:         10.0,
			TakeProfitPct:          3.0,
			TPExtendStrength:       0.65,
			TPExtendStepPct:        1.0,
			TrailingActivatePct:    0.8,
			StallHours:             8.0,
			StallBandPct:           0.5,
			ExhaustionRSI:          78.0,
			ExhaustionVolRatio:     0.6,
			ExhaustionMinProfitPct: 1.0,
			ReversalDropPct:        1.2,
			MaxScaleIns:            3,
			ScaleInStepPct:         1.5,
			ScaleInSizePct:         50.0,
			PartialTakePct:         5.0,
			PartialTakeFraction:    0.33,
		},
		Scheduler: SchedulerConfig{
			SupervisionIntervalSec:  15,
			ScanIntervalSec:         60,
			CoordinatorIntervalSec:  30,
			PersistIntervalSec:      300,
			WatchdogIntervalSec:     60,
			SupervisionHeadStartSec: 5,
			StalenessMultiplier:     2.0,
			MinConfidence:           0.55,
		},
		State: StateConfig{
			Dir: "state",
		},
		Journal: JournalConfig{
			Enabled: true,
			Dir:     "journal",
		},
		Monitoring: MonitoringConfig{
			ListenAddr: ":9090",
		},
	}
}

// Validate rejects configurations the guardrails cannot safely run under.
func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.symbols must not be empty")
	}
	if c.Risk.DailyLossCapPct <= 0 {
		return fmt.Errorf("risk.daily_loss_cap_pct must be positive, got %.2f", c.Risk.DailyLossCapPct)
	}
	if c.Risk.SevereLossMultiplier < 1.0 {
		return fmt.Errorf("risk.severe_loss_multiplier must be >= 1.0, got %.2f", c.Risk.SevereLossMultiplier)
	}
	if c.Risk.MaxOpenPositions < 1 {
		return fmt.Errorf("risk.max_open_positions must be at least 1, got %d", c.Risk.MaxOpenPositions)
	}
	if c.Risk.MaxPositionValuePct <= 0 || c.Risk.MaxPositionValuePct > 100 {
		return fmt.Errorf("risk.max_position_value_pct must be in (0, 100], got %.2f", c.Risk.MaxPositionValuePct)
	}
	if c.Risk.HeatCeiling <= 0 || c.Risk.HeatCeiling > 100 {
		return fmt.Errorf("risk.heat_ceiling must be in (0, 100], got %.2f", c.Risk.HeatCeiling)
	}
	if c.Risk.CorrelationModerate >= c.Risk.CorrelationHigh {
		return fmt.Errorf("risk.correlation_moderate (%.2f) must be below correlation_high (%.2f)",
			c.Risk.CorrelationModerate, c.Risk.CorrelationHigh)
	}
	if c.Risk.RecentOutcomeWindow < 10 {
		return fmt.Errorf("risk.recent_outcome_window must be at least 10, got %d", c.Risk.RecentOutcomeWindow)
	}

	if c.Sizing.MinFraction <= 0 || c.Sizing.MinFraction >= c.Sizing.MaxFraction {
		return fmt.Errorf("sizing.min_fraction (%.2f) must be positive and below max_fraction (%.2f)",
			c.Sizing.MinFraction, c.Sizing.MaxFraction)
	}
	if c.Sizing.MaxFraction > 1.0 {
		return fmt.Errorf("sizing.max_fraction must not exceed 1.0, got %.2f", c.Sizing.MaxFraction)
	}
	if c.Sizing.KellyBaseFraction <= 0 || c.Sizing.KellyBaseFraction > 1.0 {
		return fmt.Errorf("sizing.kelly_base_fraction must be in (0, 1], got %.2f", c.Sizing.KellyBaseFraction)
	}
	if c.Sizing.MaxCorrelationCut < 0 || c.Sizing.MaxCorrelationCut > 1.0 {
		return fmt.Errorf("sizing.max_correlation_cut must be in [0, 1], got %.2f", c.Sizing.MaxCorrelationCut)
	}
	if c.Sizing.Leverage <= 0 || c.Sizing.Leverage > c.Sizing.MaxLeverage {
		return fmt.Errorf("sizing.leverage %.1f must be positive and within max_leverage %.1f",
			c.Sizing.Leverage, c.Sizing.MaxLeverage)
	}

	if c.Position.MaxStopLossPct <= 0 {
		return fmt.Errorf("position.max_stop_loss_pct must be positive, got %.2f", c.Position.MaxStopLossPct)
	}
	if c.Position.StallHours <= 0 {
		return fmt.Errorf("position.stall_hours must be positive, got %.1f", c.Position.StallHours)
	}
	if c.Position.PartialTakeFraction < 0 || c.Position.PartialTakeFraction >= 1.0 {
		return fmt.Errorf("position.partial_take_fraction must be in [0, 1), got %.2f", c.Position.PartialTakeFraction)
	}
	if c.Position.MaxScaleIns < 0 {
		return fmt.Errorf("position.max_scale_ins must not be negative, got %d", c.Position.MaxScaleIns)
	}

	if c.Scheduler.SupervisionIntervalSec < 1 {
		return fmt.Errorf("scheduler.supervision_interval_sec must be at least 1, got %d", c.Scheduler.SupervisionIntervalSec)
	}
	if c.Scheduler.ScanIntervalSec < c.Scheduler.SupervisionIntervalSec {
		return fmt.Errorf("scheduler.scan_interval_sec (%d) should not be shorter than supervision interval (%d)",
			c.Scheduler.ScanIntervalSec, c.Scheduler.SupervisionIntervalSec)
	}
	if c.Scheduler.StalenessMultiplier < 1.0 {
		return fmt.Errorf("scheduler.staleness_multiplier must be >= 1.0, got %.2f", c.Scheduler.StalenessMultiplier)
	}
	if c.Scheduler.MinConfidence < 0 || c.Scheduler.MinConfidence > 1 {
		return fmt.Errorf("scheduler.min_confidence must be in [0, 1], got %.2f", c.Scheduler.MinConfidence)
	}

	return nil
}

// SupervisionInterval returns the supervision loop cadence.
func (c *SchedulerConfig) SupervisionInterval() time.Duration {
	return time.Duration(c.SupervisionIntervalSec) * time.Second
}

// ScanInterval returns the scanning loop cadence.
func (c *SchedulerConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSec) * time.Second
}

// CoordinatorInterval returns the coordinator loop cadence.
func (c *SchedulerConfig) CoordinatorInterval() time.Duration {
	return time.Duration(c.CoordinatorIntervalSec) * time.Second
}

// PersistInterval returns the persistence loop cadence.
func (c *SchedulerConfig) PersistInterval() time.Duration {
	return time.Duration(c.PersistIntervalSec) * time.Second
}

// WatchdogInterval returns the watchdog check cadence.
func (c *SchedulerConfig) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalSec) * time.Second
}

// SupervisionHeadStart returns how long supervision runs alone before
// scanning starts.
func (c *SchedulerConfig) SupervisionHeadStart() time.Duration {
	return time.Duration(c.SupervisionHeadStartSec) * time.Second
}

// OpportunityTTL returns the age beyond which cached opportunities are
// considered stale and never acted upon.
func (c *SchedulerConfig) OpportunityTTL() time.Duration {
	return time.Duration(float64(c.ScanIntervalSec)*c.StalenessMultiplier) * time.Second
}

// ClockStaleness returns the maximum tolerated age of the last successful
// exchange clock sync.
func (c *RiskConfig) ClockStaleness() time.Duration {
	return time.Duration(c.ClockStalenessSec) * time.Second
}

// Category returns the concentration category for a symbol, or "unknown"
// when the symbol is unmapped. Unknown symbols are exempt from the group
// concentration guardrail.
func (c *TradingConfig) Category(symbol string) string {
	if cat, ok := c.SymbolCategories[symbol]; ok && cat != "" {
		return cat
	}
	return "unknown"
}
