package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker reports loop liveness over HTTP. Each scheduler loop
// beats on every completed iteration; a loop silent past its allowance
// marks the service degraded.
type HealthChecker struct {
	mu         sync.RWMutex
	beats      map[string]time.Time
	allowances map[string]time.Duration
	killSwitch bool
}

// HealthStatus is the JSON body of the health endpoint.
type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Uptime      string            `json:"uptime"`
	KillSwitch  bool              `json:"kill_switch"`
	LoopBeats   map[string]string `json:"loop_beats"`
	StalledLoop string            `json:"stalled_loop,omitempty"`
}

// NewHealthChecker creates an empty checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		beats:      make(map[string]time.Time),
		allowances: make(map[string]time.Duration),
	}
}

// RegisterLoop declares a loop and the maximum silence before it counts
// as stalled.
func (h *HealthChecker) RegisterLoop(name string, allowance time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowances[name] = allowance
	h.beats[name] = time.Now()
}

// Beat records a completed loop iteration.
func (h *HealthChecker) Beat(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.beats[name] = time.Now()
}

// SetKillSwitch mirrors the kill-switch state into health output.
func (h *HealthChecker) SetKillSwitch(active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killSwitch = active
}

// Stalled returns the first loop past its allowance, if any.
func (h *HealthChecker) Stalled(now time.Time) (string, time.Duration, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for name, allowance := range h.allowances {
		if age := now.Sub(h.beats[name]); age > allowance {
			return name, age, true
		}
	}
	return "", 0, false
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	stalled, _, isStalled := h.Stalled(now)

	h.mu.RLock()
	beats := make(map[string]string, len(h.beats))
	for name, at := range h.beats {
		beats[name] = now.Sub(at).Round(time.Second).String() + " ago"
	}
	killSwitch := h.killSwitch
	h.mu.RUnlock()

	status := "healthy"
	if isStalled {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthStatus{
		Status:      status,
		Timestamp:   now,
		Uptime:      time.Since(startTime).String(),
		KillSwitch:  killSwitch,
		LoopBeats:   beats,
		StalledLoop: stalled,
	})
}
