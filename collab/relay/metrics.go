package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the relay collectors. A nil *Metrics records nothing.
type Metrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	relayed     *prometheus.CounterVec
	dropped     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Open WebSocket connections",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_rooms",
			Help: "Rooms with at least one subscriber or member",
		}),
		relayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_published_messages_total",
				Help: "Published messages fanned out by topic",
			},
			[]string{"topic"},
		),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_dropped_frames_total",
			Help: "Frames dropped because a peer's send queue was full",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.rooms, m.relayed, m.dropped)
	}
	return m
}

func (m *Metrics) addConnections(delta float64) {
	if m != nil {
		m.connections.Add(delta)
	}
}

func (m *Metrics) setRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) incRelayed(topic string) {
	if m != nil {
		m.relayed.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}
