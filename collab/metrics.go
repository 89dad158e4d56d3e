package collab

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the client-side collectors. A nil *Metrics records nothing.
type Metrics struct {
	inbound          *prometheus.CounterVec
	ignored          *prometheus.CounterVec
	published        *prometheus.CounterVec
	droppedPublishes prometheus.Counter
	reconnects       prometheus.Counter
	suppressedEchoes prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collab_inbound_messages_total",
				Help: "Inbound room messages by topic",
			},
			[]string{"topic"},
		),
		ignored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collab_ignored_messages_total",
				Help: "Inbound messages dropped by the router",
			},
			[]string{"reason"},
		),
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collab_published_messages_total",
				Help: "Messages queued for publish by topic",
			},
			[]string{"topic"},
		),
		droppedPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_dropped_publishes_total",
			Help: "Publishes dropped while not connected",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_reconnect_attempts_total",
			Help: "Reconnect attempts after a failure or drop",
		}),
		suppressedEchoes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_suppressed_echoes_total",
			Help: "Inbound CODE messages discarded as echoes of local edits",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.inbound, m.ignored, m.published, m.droppedPublishes, m.reconnects, m.suppressedEchoes)
	}
	return m
}

func (m *Metrics) incInbound(topic string) {
	if m != nil {
		m.inbound.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) incIgnored(reason string) {
	if m != nil {
		m.ignored.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) incPublished(topic string) {
	if m != nil {
		m.published.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.droppedPublishes.Inc()
	}
}

func (m *Metrics) incReconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) incSuppressed() {
	if m != nil {
		m.suppressedEchoes.Inc()
	}
}
