package tunnel

import "github.com/prometheus/client_golang/prometheus"

// tunnelMetrics tracks stream activity. A nil receiver disables
// collection.
type tunnelMetrics struct {
	frames  *prometheus.CounterVec
	streams prometheus.Gauge
}

func newTunnelMetrics(reg prometheus.Registerer) *tunnelMetrics {
	m := &tunnelMetrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thingbridge_tunnel_frames_total",
			Help: "Total frames delivered to event stream clients",
		}, []string{"kind"}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thingbridge_tunnel_streams",
			Help: "Number of event streams currently being served",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.frames, m.streams)
	}
	return m
}

func (m *tunnelMetrics) observeFrame(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

func (m *tunnelMetrics) streamOpened() {
	if m == nil {
		return
	}
	m.streams.Inc()
}

func (m *tunnelMetrics) streamClosed() {
	if m == nil {
		return
	}
	m.streams.Dec()
}
