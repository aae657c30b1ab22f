package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts webhook-level outcomes for the receipt pipeline.
type Metrics struct {
	receipts      *prometheus.CounterVec
	confirmations *prometheus.CounterVec
}

// NewMetrics registers the server's counters with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kakeibot_receipts_total",
			Help: "Receipt processing attempts by outcome.",
		}, []string{"outcome"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kakeibot_confirmations_total",
			Help: "Confirmation responses by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.receipts, m.confirmations)
	return m
}

func (m *Metrics) receipt(outcome string) {
	if m != nil {
		m.receipts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) confirmation(result string) {
	if m != nil {
		m.confirmations.WithLabelValues(result).Inc()
	}
}
