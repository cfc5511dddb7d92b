package sizing

import (
	"fmt"

	"github.com/ducle1408/futures-sentinel/internal/config"
)

// FixedFractional risks a constant fraction of balance per trade,
// independent of history. The default strategy until enough trades exist
// to trust the Kelly family.
type FixedFractional struct {
	cfg config.SizingConfig
}

// NewFixedFractional creates the fixed-fractional sizer.
func NewFixedFractional(cfg config.SizingConfig) *FixedFractional {
	return &FixedFractional{cfg: cfg}
}

func (f *FixedFractional) Name() string { return "fixed_fractional" }

// Size returns balance x risk-per-trade, clamped to the configured band.
func (f *FixedFractional) Size(ctx Context) Result {
	if ctx.Balance <= 0 {
		return conservativeFallback(0, f.cfg, "invalid balance")
	}

	fraction := clampFraction(f.cfg.RiskPerTradePct/100, f.cfg)
	rationale := fmt.Sprintf("fixed fractional %.1f%% of balance", fraction*100)
	return finalize(ctx.Balance, fraction, f.cfg.Leverage, f.cfg, rationale)
}
