package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Trading metrics
	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_trades_total",
			Help: "Total number of closed trades",
		},
		[]string{"symbol", "side", "reason"},
	)

	tradePnL = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_trade_pnl_pct",
			Help:    "Distribution of realized leveraged trade returns in percent",
			Buckets: []float64{-10, -5, -3, -1, 0, 1, 3, 5, 10, 20},
		},
		[]string{"symbol"},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_open_positions",
			Help: "Number of currently open positions",
		},
	)

	// Risk metrics
	portfolioHeat = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_portfolio_heat",
			Help: "Portfolio heat score in [0, 100]",
		},
	)

	dailyLossPct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_daily_loss_pct",
			Help: "Realized loss percentage for the current UTC day",
		},
	)

	killSwitchActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_kill_switch_active",
			Help: "1 while the kill switch blocks new entries",
		},
	)

	guardrailDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_guardrail_denials_total",
			Help: "Entries denied by guardrail checks",
		},
		[]string{"symbol"},
	)

	// Scheduler metrics
	loopTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_loop_ticks_total",
			Help: "Completed iterations per scheduler loop",
		},
		[]string{"loop"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(tradesTotal)
	prometheus.MustRegister(tradePnL)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(portfolioHeat)
	prometheus.MustRegister(dailyLossPct)
	prometheus.MustRegister(killSwitchActive)
	prometheus.MustRegister(guardrailDenials)
	prometheus.MustRegister(loopTicks)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler serves the Prometheus scrape endpoint.
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordTrade records a closed trade.
func RecordTrade(symbol, side, reason string, pnlPct float64) {
	tradesTotal.WithLabelValues(symbol, side, reason).Inc()
	tradePnL.WithLabelValues(symbol).Observe(pnlPct)
}

// SetOpenPositions updates the open-position gauge.
func SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}

// SetRiskGauges updates the risk gauges from the latest snapshot.
func SetRiskGauges(heat, dailyLoss float64, killSwitch bool) {
	portfolioHeat.Set(heat)
	dailyLossPct.Set(dailyLoss)
	if killSwitch {
		killSwitchActive.Set(1)
	} else {
		killSwitchActive.Set(0)
	}
}

// RecordDenial records a guardrail denial for a symbol.
func RecordDenial(symbol string) {
	guardrailDenials.WithLabelValues(symbol).Inc()
}

// RecordLoopTick records one completed scheduler loop iteration.
func RecordLoopTick(loop string) {
	loopTicks.WithLabelValues(loop).Inc()
}

// RecordError records an error metric.
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
