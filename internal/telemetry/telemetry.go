// Package telemetry exposes the engine's Prometheus metrics (spec §6.2).
// Naming and registration style is carried over from metrics.go (package-
// level prometheus.New*Vec values registered once, label-scoped setter
// helpers), generalized from the teacher's single-bot metric names
// (bot_*) to the multi-component engine (engine_*).
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_signals_total", Help: "Signals emitted by the SignalGenerator."},
		[]string{"symbol", "side", "type"},
	)

	FilterRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_filter_rejections_total", Help: "Signals rejected by the FilterPipeline, by rejecting filter."},
		[]string{"symbol", "filter"},
	)

	PositionsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "engine_positions_open", Help: "Currently open positions."},
		[]string{"symbol"},
	)

	ExitReasonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_exit_reasons_total", Help: "Closed positions split by exit reason."},
		[]string{"symbol", "reason"},
	)

	RiskHaltsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_risk_halts_total", Help: "Entries rejected by RiskGovernor, by reason."},
		[]string{"reason"},
	)

	LeverageSelected = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "engine_leverage_selected", Help: "Distribution of leverage chosen at entry.", Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 75, 100, 125}},
		[]string{"symbol"},
	)

	RegimeCurrent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "engine_regime_current", Help: "Current regime per symbol, one-hot across label series."},
		[]string{"symbol", "label"},
	)

	ReconciliationDriftTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_reconciliation_drift_total", Help: "Drift events handled by ReconciliationWorker, by kind."},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsTotal, FilterRejectionsTotal, PositionsOpen, ExitReasonsTotal,
		RiskHaltsTotal, LeverageSelected, RegimeCurrent, ReconciliationDriftTotal,
	)
}

// SetRegime flips the one-hot regime gauge series for a symbol, the same
// pattern metrics.go's SetModelModeMetric uses for its two-series mode gauge.
func SetRegime(symbol, label string) {
	for _, l := range []string{"TRENDING", "RANGING", "CHOPPY"} {
		v := 0.0
		if l == label {
			v = 1.0
		}
		RegimeCurrent.WithLabelValues(symbol, l).Set(v)
	}
}
