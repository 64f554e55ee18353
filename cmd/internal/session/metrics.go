package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts authentication outcomes. A nil *Metrics records nothing.
type Metrics struct {
	logins  *prometheus.CounterVec
	reauths *prometheus.CounterVec
}

// NewMetrics registers the session collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkin",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		reauths: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkin",
			Subsystem: "session",
			Name:      "reauthentications_total",
			Help:      "Re-logins triggered by a 401 or an expired token, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.logins, m.reauths)
	}
	return m
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) reauth(result string) {
	if m == nil {
		return
	}
	m.reauths.WithLabelValues(result).Inc()
}
