package regime

import (
	"testing"
	"time"

	"github.com/ducle1408/futures-sentinel/pkg/types"
)

func candles(closes []float64) []types.OHLCV {
	out := make([]types.OHLCV, len(closes))
	ts := time.Now().Add(-time.Duration(len(closes)) * time.Hour)
	for i, c := range closes {
		prev := c
		if i > 0 {
			prev = closes[i-1]
		}
		high, low := c, prev
		if low > high {
			high, low = low, high
		}
		out[i] = types.OHLCV{
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
			Open:      prev, High: high, Low: low, Close: c,
			Volume: 100,
		}
	}
	return out
}

func trending(n int, step float64) []float64 {
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		closes[i] = price
		price *= 1 + step
	}
	return closes
}

func TestDetectInsufficientHistory(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	if r := d.Detect(candles(trending(10, 0.01))); r != Neutral {
		t.Fatalf("short history = %s, want neutral", r)
	}
}

func TestDetectBullAndBear(t *testing.T) {
	// 45 candles keeps the series below the volatility lookback so the
	// trend branch decides.
	d := NewDetector(DefaultDetectorConfig())

	if r := d.Detect(candles(trending(45, 0.01))); r != Bull {
		t.Fatalf("steady rally = %s, want bull", r)
	}
	if r := d.Detect(candles(trending(45, -0.01))); r != Bear {
		t.Fatalf("steady decline = %s, want bear", r)
	}
}

func TestDetectFlatIsNeutral(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	flat := make([]float64, 45)
	for i := range flat {
		flat[i] = 100
	}
	if r := d.Detect(candles(flat)); r != Neutral {
		t.Fatalf("flat market = %s, want neutral", r)
	}
}

func TestDetectHighVolOutranksTrend(t *testing.T) {
	// 49 calm candles then a violent final candle: the current ATR lands in
	// the top of the lookback distribution even though the series trends up.
	closes := trending(59, 0.002)
	closes[58] = closes[57] * 1.25

	d := NewDetector(DefaultDetectorConfig())
	if r := d.Detect(candles(closes)); r != HighVol {
		t.Fatalf("volatile market = %s, want high_vol", r)
	}
}

func TestTrendStrength(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())

	if s := d.TrendStrength(candles(trending(45, 0.01))); s != 1.0 {
		t.Fatalf("monotonic rally strength = %.2f, want 1.0", s)
	}
	if s := d.TrendStrength(candles(trending(45, -0.01))); s != 0.0 {
		t.Fatalf("monotonic decline strength = %.2f, want 0.0", s)
	}
	if s := d.TrendStrength(candles(trending(5, 0.01))); s != 0.5 {
		t.Fatalf("short history strength = %.2f, want the 0.5 default", s)
	}
}

func TestRSIBounds(t *testing.T) {
	if got := RSI(candles(trending(30, 0.01)), 14); got != 100 {
		t.Fatalf("all-gains RSI = %.1f, want 100", got)
	}
	if got := RSI(candles(trending(30, -0.01)), 14); got != 0 {
		t.Fatalf("all-losses RSI = %.1f, want 0", got)
	}
	if got := RSI(candles(trending(5, 0.01)), 14); got != 50 {
		t.Fatalf("short history RSI = %.1f, want the 50 default", got)
	}
}

func TestATRShortHistoryIsZero(t *testing.T) {
	if got := ATR(candles(trending(10, 0.01)), 14); got != 0 {
		t.Fatalf("short history ATR = %.4f, want 0", got)
	}
}

func TestParseRegimeRoundTrip(t *testing.T) {
	for _, r := range []Regime{Bull, Bear, Neutral, HighVol, LowVol} {
		if got := ParseRegime(r.String()); got != r {
			t.Fatalf("ParseRegime(%q) = %s", r.String(), got)
		}
	}
	if got := ParseRegime("garbage"); got != Neutral {
		t.Fatalf("unknown tag = %s, want neutral fallback", got)
	}
}
