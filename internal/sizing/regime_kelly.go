package sizing

import (
	"fmt"

	"github.com/ducle1408/futures-sentinel/internal/config"
)

// RegimeKelly computes the classic Kelly fraction from the rolling win/loss
// record, scales it by a conservative base fraction, the current market
// regime, and signal confidence, then clamps it to the configured band.
type RegimeKelly struct {
	cfg config.SizingConfig
}

// NewRegimeKelly creates the regime-aware Kelly sizer.
func NewRegimeKelly(cfg config.SizingConfig) *RegimeKelly {
	return &RegimeKelly{cfg: cfg}
}

func (k *RegimeKelly) Name() string { return "regime_kelly" }

// Size computes f = (b*p - q) / b with b = avgWin/avgLoss, p = win rate.
// A non-positive Kelly edge falls back to the band minimum rather than
// refusing the trade; refusal belongs to the guardrail layer.
func (k *RegimeKelly) Size(ctx Context) Result {
	if ctx.Balance <= 0 {
		return conservativeFallback(0, k.cfg, "invalid balance")
	}
	if ctx.AvgLoss <= 0 || ctx.WinRate <= 0 || ctx.WinRate >= 1 {
		return conservativeFallback(ctx.Balance, k.cfg, "degenerate win/loss statistics")
	}

	b := ctx.AvgWin / ctx.AvgLoss
	p := ctx.WinRate
	q := 1 - p
	kelly := (b*p - q) / b

	if kelly <= 0 {
		return conservativeFallback(ctx.Balance, k.cfg, fmt.Sprintf("negative Kelly edge %.3f", kelly))
	}

	regimeMult := regimeMultiplier(k.cfg.Regime, ctx.Regime)
	confMult := confidenceMultiplier(ctx.Confidence)

	fraction := clampFraction(kelly*k.cfg.KellyBaseFraction*regimeMult*confMult, k.cfg)

	rationale := fmt.Sprintf("kelly=%.3f (b=%.2f p=%.2f) x base %.2f x %s %.2f x conf %.2f -> %.3f",
		kelly, b, p, k.cfg.KellyBaseFraction, ctx.Regime, regimeMult, confMult, fraction)
	return finalize(ctx.Balance, fraction, k.cfg.Leverage, k.cfg, rationale)
}
