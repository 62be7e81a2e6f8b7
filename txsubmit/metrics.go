package txsubmit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	outcomes      *prometheus.CounterVec
	inFlight      prometheus.Gauge
	confirmations prometheus.Histogram
}

// newMetrics registers on reg; a nil reg keeps the collectors unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dapp_core_tx_outcomes_total",
				Help: "Terminal transaction outcomes by kind",
			},
			[]string{"outcome"},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "dapp_core_tx_in_flight",
				Help: "Transactions whose event sequence is being consumed",
			},
		),
		confirmations: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dapp_core_tx_confirmation_seconds",
				Help:    "Time from broadcast to receipt",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
		),
	}
}

func (m *metrics) outcome(ev Event) {
	label := ev.State.String()
	if ev.State == Failed {
		label = ev.Reason.String()
	}
	m.outcomes.WithLabelValues(label).Inc()
}

func (m *metrics) abandoned() {
	m.outcomes.WithLabelValues("abandoned").Inc()
}
