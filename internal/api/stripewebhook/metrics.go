package stripewebhooks

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	EventsTotal *prometheus.CounterVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_events_total",
				Help: "Stripe webhook events by type and handling outcome",
			},
			[]string{"type", "outcome"},
		),
	}
	registry.MustRegister(m.EventsTotal)
	return m
}

func (m *Metrics) observe(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType, outcome).Inc()
}
