package pool

import "github.com/prometheus/client_golang/prometheus"

// poolMetrics tracks binding churn. A nil receiver disables collection.
type poolMetrics struct {
	rebinds  prometheus.Counter
	bindings prometheus.Gauge
}

func newPoolMetrics(reg prometheus.Registerer) *poolMetrics {
	m := &poolMetrics{
		rebinds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thingbridge_pool_rebinds_total",
			Help: "Total number of successful handle rebinds",
		}),
		bindings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thingbridge_pool_bindings",
			Help: "Number of Things with a live binding",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.rebinds, m.bindings)
	}
	return m
}

func (m *poolMetrics) observeRebind() {
	if m == nil {
		return
	}
	m.rebinds.Inc()
}

func (m *poolMetrics) setBindings(n int) {
	if m == nil {
		return
	}
	m.bindings.Set(float64(n))
}
