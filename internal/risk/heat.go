package risk

import "math"

// HeatInputs are the aggregate portfolio facts the heat score combines.
type HeatInputs struct {
	OpenPositions  int
	MaxPositions   int
	AvgLeverage    float64
	MaxLeverage    float64
	AvgCorrelation float64 // average |pairwise correlation| across open positions
}

// PortfolioHeat estimates aggregate account risk on a 0-100 scale from
// position count, leverage, and correlation. Weighting: count 40%,
// leverage 30%, correlation 30%. The guardrail layer refuses new trades
// above the configured ceiling; the sizer never sees heat directly.
func PortfolioHeat(in HeatInputs) float64 {
	if in.OpenPositions == 0 {
		return 0
	}

	countRatio := 1.0
	if in.MaxPositions > 0 {
		countRatio = math.Min(float64(in.OpenPositions)/float64(in.MaxPositions), 1.0)
	}

	leverageRatio := 0.0
	if in.MaxLeverage > 0 {
		leverageRatio = math.Min(in.AvgLeverage/in.MaxLeverage, 1.0)
	}

	corrRatio := math.Min(math.Abs(in.AvgCorrelation), 1.0)

	heat := 40*countRatio + 30*leverageRatio + 30*corrRatio
	return math.Min(heat, 100)
}
