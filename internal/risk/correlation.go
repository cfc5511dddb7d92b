package risk

import (
	"math"
	"sync"
)

// CorrelationTracker keeps a rolling window of close prices per symbol and
// computes pairwise return correlations on demand. Symbols with no
// history correlate at 0 - unknown is treated as uncorrelated, never as a
// blocker.
type CorrelationTracker struct {
	mu       sync.RWMutex
	closes   map[string][]float64
	capacity int
}

// NewCorrelationTracker creates a tracker holding up to capacity closes per
// symbol.
func NewCorrelationTracker(capacity int) *CorrelationTracker {
	if capacity < 10 {
		capacity = 50
	}
	return &CorrelationTracker{
		closes:   make(map[string][]float64),
		capacity: capacity,
	}
}

// Observe replaces the stored close series for a symbol with the latest
// window. Called from the scanning loop with fresh kline data.
func (t *CorrelationTracker) Observe(symbol string, closes []float64) {
	if len(closes) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(closes) > t.capacity {
		closes = closes[len(closes)-t.capacity:]
	}
	cp := make([]float64, len(closes))
	copy(cp, closes)
	t.closes[symbol] = cp
}

// Pairwise returns the Pearson correlation of returns between two symbols,
// or 0 when either side lacks history.
func (t *CorrelationTracker) Pairwise(a, b string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return pearson(returns(t.closes[a]), returns(t.closes[b]))
}

// AvgAbsCorrelation returns the average absolute correlation between the
// candidate and each of the open symbols. No open symbols, or no usable
// history, returns 0.
func (t *CorrelationTracker) AvgAbsCorrelation(candidate string, open []string) float64 {
	if len(open) == 0 {
		return 0
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	candRets := returns(t.closes[candidate])
	if len(candRets) == 0 {
		return 0
	}

	sum, n := 0.0, 0
	for _, sym := range open {
		if sym == candidate {
			continue
		}
		r := pearson(candRets, returns(t.closes[sym]))
		sum += math.Abs(r)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		rets = append(rets, (closes[i]-closes[i-1])/closes[i-1])
	}
	return rets
}

func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	meanA, meanB := mean(a), mean(b)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
