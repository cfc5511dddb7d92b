package sizing

import (
	"fmt"
	"math"

	"github.com/ducle1408/futures-sentinel/internal/config"
)

// BayesianKelly treats the win rate as a Beta posterior (prior
// pseudo-counts plus the rolling-window record) instead of a point
// estimate, and scales the Kelly fraction down as posterior uncertainty
// or market volatility rises. The scale-downs use discrete bands, not
// continuous curves, so sizing decisions stay auditable.
type BayesianKelly struct {
	cfg config.SizingConfig
}

// NewBayesianKelly creates the Bayesian-adaptive Kelly sizer.
func NewBayesianKelly(cfg config.SizingConfig) *BayesianKelly {
	return &BayesianKelly{cfg: cfg}
}

func (k *BayesianKelly) Name() string { return "bayesian_kelly" }

// Posterior returns the Beta posterior mean and standard deviation of the
// win rate for the given window record.
func (k *BayesianKelly) Posterior(windowWins, windowLosses int) (mean, sd float64) {
	alpha := k.cfg.PriorWins + float64(windowWins)
	beta := k.cfg.PriorLosses + float64(windowLosses)
	total := alpha + beta

	mean = alpha / total
	sd = math.Sqrt(alpha * beta / (total * total * (total + 1)))
	return mean, sd
}

// uncertaintyBand maps posterior standard deviation to a discrete
// multiplier.
func uncertaintyBand(sd float64) float64 {
	switch {
	case sd < 0.05:
		return 1.0
	case sd < 0.08:
		return 0.75
	case sd < 0.12:
		return 0.5
	default:
		return 0.35
	}
}

// volatilityBand maps ATR/price to a discrete multiplier.
func volatilityBand(vol float64) float64 {
	switch {
	case vol < 0.01:
		return 1.0
	case vol < 0.03:
		return 0.8
	case vol < 0.06:
		return 0.6
	default:
		return 0.4
	}
}

// Size computes Kelly on the posterior mean, then applies uncertainty,
// volatility, regime, and confidence scaling before clamping.
func (k *BayesianKelly) Size(ctx Context) Result {
	if ctx.Balance <= 0 {
		return conservativeFallback(0, k.cfg, "invalid balance")
	}
	if ctx.AvgLoss <= 0 {
		return conservativeFallback(ctx.Balance, k.cfg, "degenerate loss statistics")
	}

	pMean, pSD := k.Posterior(ctx.WindowWins, ctx.WindowLosses)

	b := ctx.AvgWin / ctx.AvgLoss
	if b <= 0 {
		return conservativeFallback(ctx.Balance, k.cfg, "degenerate win/loss ratio")
	}
	kelly := (b*pMean - (1 - pMean)) / b
	if kelly <= 0 {
		return conservativeFallback(ctx.Balance, k.cfg, fmt.Sprintf("negative posterior Kelly edge %.3f", kelly))
	}

	uMult := uncertaintyBand(pSD)
	vMult := volatilityBand(ctx.Volatility)
	regimeMult := regimeMultiplier(k.cfg.Regime, ctx.Regime)
	confMult := confidenceMultiplier(ctx.Confidence)

	// Below the reliability threshold the posterior is still thin; halve.
	reliability := 1.0
	if ctx.TradeCount < k.cfg.ReliabilityTrades {
		reliability = 0.5
	}

	fraction := clampFraction(
		kelly*k.cfg.KellyBaseFraction*uMult*vMult*regimeMult*confMult*reliability, k.cfg)

	rationale := fmt.Sprintf(
		"posterior p=%.3f sd=%.3f kelly=%.3f x base %.2f x unc %.2f x vol %.2f x %s %.2f x conf %.2f x rel %.2f -> %.3f",
		pMean, pSD, kelly, k.cfg.KellyBaseFraction, uMult, vMult, ctx.Regime, regimeMult, confMult, reliability, fraction)
	return finalize(ctx.Balance, fraction, k.cfg.Leverage, k.cfg, rationale)
}
