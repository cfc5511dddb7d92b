package sizing

import (
	"fmt"

	"github.com/ducle1408/futures-sentinel/internal/config"
)

// ApplyCorrelationAdjustment reduces a strategy's output size as the
// candidate's average absolute correlation with open positions rises.
// Below the moderate threshold there is no cut; at or above the high
// threshold the full configured cut applies; in between the cut
// interpolates linearly. Applied universally after every strategy.
func ApplyCorrelationAdjustment(res Result, avgAbsCorr float64, sizingCfg config.SizingConfig, riskCfg config.RiskConfig) Result {
	if avgAbsCorr <= riskCfg.CorrelationModerate || sizingCfg.MaxCorrelationCut <= 0 {
		return res
	}

	var cut float64
	if avgAbsCorr >= riskCfg.CorrelationHigh {
		cut = sizingCfg.MaxCorrelationCut
	} else {
		span := riskCfg.CorrelationHigh - riskCfg.CorrelationModerate
		cut = sizingCfg.MaxCorrelationCut * (avgAbsCorr - riskCfg.CorrelationModerate) / span
	}

	res.AmountUSD *= 1 - cut
	res.Fraction *= 1 - cut
	if res.AmountUSD < sizingCfg.MinOrderUSD {
		res.AmountUSD = sizingCfg.MinOrderUSD
	}
	res.Rationale += fmt.Sprintf("; correlation %.2f cut %.0f%%", avgAbsCorr, cut*100)
	return res
}
