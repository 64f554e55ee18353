package livesync

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments channels and views. A nil *Metrics records nothing.
type Metrics struct {
	messages   *prometheus.CounterVec
	reconnects prometheus.Counter
	connected  prometheus.Gauge
	refetches  *prometheus.CounterVec
}

// NewMetrics registers the live sync collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkin",
			Subsystem: "push",
			Name:      "messages_total",
			Help:      "Push messages by outcome (received, malformed, matched, ignored).",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkin",
			Subsystem: "push",
			Name:      "reconnects_total",
			Help:      "Push channel reconnect attempts.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "checkin",
			Subsystem: "push",
			Name:      "connected_channels",
			Help:      "Currently open push connections.",
		}),
		refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkin",
			Subsystem: "view",
			Name:      "refetches_total",
			Help:      "View loads by kind and result (ok, error, stale).",
		}, []string{"kind", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.messages, m.reconnects, m.connected, m.refetches)
	}
	return m
}

func (m *Metrics) message(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) connectedDelta(d float64) {
	if m == nil {
		return
	}
	m.connected.Add(d)
}

func (m *Metrics) refetch(kind Kind, result string) {
	if m == nil {
		return
	}
	m.refetches.WithLabelValues(string(kind), result).Inc()
}
