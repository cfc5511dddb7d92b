package risk

import (
	"fmt"

	"github.com/ducle1408/futures-sentinel/internal/config"
	"github.com/ducle1408/futures-sentinel/internal/logger"
)

// Decision is the outcome of a guardrail evaluation. A deny is not an
// error; the reason string carries enough context to reconstruct the call
// after the fact.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the approving decision.
func Allow() Decision {
	return Decision{Allowed: true, Reason: "all guardrails passed"}
}

// Deny builds a denial with a formatted reason.
func Deny(format string, args ...interface{}) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// ProposedTrade is the candidate a coordinator wants to open.
type ProposedTrade struct {
	Symbol     string
	Category   string
	ValueUSD   float64
	Confidence float64
}

// PortfolioView is the point-in-time ledger context a guardrail evaluation
// needs: copied out under the ledger lock, passed in by value so the
// evaluation itself never touches shared structures.
type PortfolioView struct {
	Balance        float64
	OpenPositions  int
	CategoryCounts map[string]int
	Heat           float64
}

// Guardrails evaluates hard limits before any trade is opened. Checks run
// in a fixed order, cheapest and most global first; the first failing check
// wins. The only side effect is tripping the kill switch on a severe daily
// loss breach.
type Guardrails struct {
	config config.RiskConfig
	state  *State
	log    *logger.Logger
}

// NewGuardrails creates the guardrail engine.
func NewGuardrails(cfg config.RiskConfig, state *State, log *logger.Logger) *Guardrails {
	return &Guardrails{config: cfg, state: state, log: log}
}

// Evaluate returns Allow or the first failing Deny. Every denial is logged
// at warning level with the numbers that drove it.
func (g *Guardrails) Evaluate(trade ProposedTrade, view PortfolioView) Decision {
	decision := g.evaluate(trade, view)
	if !decision.Allowed {
		g.log.Warning("guardrail deny %s: %s", trade.Symbol, decision.Reason)
	}
	return decision
}

func (g *Guardrails) evaluate(trade ProposedTrade, view PortfolioView) Decision {
	// 1. Kill switch: denies everything, regardless of other inputs.
	if ks := g.state.KillSwitchState(); ks.Active {
		return Deny("kill switch active since %s: %s", ks.ActivatedAt.Format("15:04:05"), ks.Reason)
	}

	// 2. Clock-sync staleness: trading with an unsynced clock risks
	// rejected or duplicated orders.
	age, skew := g.state.ClockSyncAge()
	if age > g.config.ClockStaleness() {
		return Deny("exchange clock sync stale: last sync %s ago (max %s)", age.Round(1e9), g.config.ClockStaleness())
	}
	// Skew is signed; a clock behind the exchange is as unsafe as one
	// ahead of it.
	if skew < 0 {
		skew = -skew
	}
	if skew > g.config.MaxClockSkewMs {
		return Deny("exchange clock skew %dms exceeds %dms", skew, g.config.MaxClockSkewMs)
	}

	// 3. Daily loss cap. A severe breach latches the kill switch; the cap
	// alone only denies.
	dailyLoss := g.state.DailyLossPct()
	if dailyLoss >= g.config.DailyLossCapPct {
		if dailyLoss >= g.config.DailyLossCapPct*g.config.SevereLossMultiplier {
			reason := fmt.Sprintf("daily loss %.2f%% breached severe threshold %.2f%%",
				dailyLoss, g.config.DailyLossCapPct*g.config.SevereLossMultiplier)
			g.state.TripKillSwitch(reason)
			g.log.Critical("kill switch tripped: %s", reason)
		}
		return Deny("daily loss cap breached: %.2f%% >= %.2f%%", dailyLoss, g.config.DailyLossCapPct)
	}

	// 4. Max concurrent open positions.
	if view.OpenPositions >= g.config.MaxOpenPositions {
		return Deny("max open positions reached: %d >= %d", view.OpenPositions, g.config.MaxOpenPositions)
	}

	// 5. Per-trade value cap as a percentage of balance.
	if view.Balance > 0 {
		valuePct := trade.ValueUSD / view.Balance * 100
		if valuePct > g.config.MaxPositionValuePct {
			return Deny("position value $%.2f is %.1f%% of balance, cap %.1f%%",
				trade.ValueUSD, valuePct, g.config.MaxPositionValuePct)
		}
	}

	// 6. Portfolio heat ceiling.
	if view.Heat > g.config.HeatCeiling {
		return Deny("portfolio heat %.1f above ceiling %.1f", view.Heat, g.config.HeatCeiling)
	}

	// 7. Category concentration. "unknown" is long-tail, unlinked assets,
	// not a genuine cluster, so it is exempt.
	if trade.Category != "" && trade.Category != "unknown" {
		if count := view.CategoryCounts[trade.Category]; count >= g.config.CategoryGroupLimit {
			return Deny("category %q concentration limit reached: %d open >= %d",
				trade.Category, count, g.config.CategoryGroupLimit)
		}
	}

	return Allow()
}

// RiskSnapshot is the on-demand view exposed to dashboards and alerting.
type RiskSnapshot struct {
	Balance           float64    `json:"balance"`
	Drawdown          float64    `json:"drawdown"`
	DailyLossPct      float64    `json:"daily_loss_pct"`
	OpenPositionCount int        `json:"open_position_count"`
	PortfolioHeat     float64    `json:"portfolio_heat"`
	WinRate           float64    `json:"win_rate"`
	KillSwitch        KillSwitch `json:"kill_switch"`
}

// SnapshotFor builds a point-in-time risk snapshot for the given portfolio
// view.
func (g *Guardrails) SnapshotFor(view PortfolioView) RiskSnapshot {
	return RiskSnapshot{
		Balance:           g.state.Balance(),
		Drawdown:          g.state.Drawdown(),
		DailyLossPct:      g.state.DailyLossPct(),
		OpenPositionCount: view.OpenPositions,
		PortfolioHeat:     view.Heat,
		WinRate:           g.state.WinRate(),
		KillSwitch:        g.state.KillSwitchState(),
	}
}
