package scanner

import (
	"sort"
	"sync"
	"time"
)

// Direction is the proposed trade direction of an opportunity.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Opportunity is one candidate trade produced by a market scan. Score
// orders candidates within a scan; Confidence gates them against the
// adaptive threshold.
type Opportunity struct {
	Symbol     string    `json:"symbol"`
	Category   string    `json:"category"`
	Direction  Direction `json:"direction"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Price      float64   `json:"price"`
	ATR        float64   `json:"atr"`
	Regime     string    `json:"regime"`
	Rationale  string    `json:"rationale"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// Cache holds the latest scan results. Each completed scan replaces the
// whole set atomically; readers never observe a half-written scan.
type Cache struct {
	mu            sync.RWMutex
	opportunities []Opportunity
	updatedAt     time.Time
	ttl           time.Duration
}

// NewCache creates a cache that discards results older than ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Replace swaps in a fresh scan result, sorted by descending score.
func (c *Cache) Replace(opps []Opportunity, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	sorted := make([]Opportunity, len(opps))
	copy(sorted, opps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	c.mu.Lock()
	c.opportunities = sorted
	c.updatedAt = at
	c.mu.Unlock()
}

// Fresh returns the cached opportunities when the last scan is within the
// TTL, or nil when the cache is stale or empty. A stale cache means the
// coordinator sits out the cycle rather than act on old signals.
func (c *Cache) Fresh(now time.Time) []Opportunity {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.updatedAt.IsZero() || now.Sub(c.updatedAt) > c.ttl {
		return nil
	}
	out := make([]Opportunity, len(c.opportunities))
	copy(out, c.opportunities)
	return out
}

// Age returns the time since the last successful scan, or a very large
// value when no scan has completed yet.
func (c *Cache) Age(now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.updatedAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(c.updatedAt)
}

// UpdatedAt returns when the cache last replaced its contents.
func (c *Cache) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}
