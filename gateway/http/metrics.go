package http

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// gatewayMetrics counts gateway traffic. A nil receiver is a no-op so
// metrics stay optional.
type gatewayMetrics struct {
	requestsTotal prometheus.Counter
	responses     *prometheus.CounterVec
}

func newGatewayMetrics(reg prometheus.Registerer) *gatewayMetrics {
	m := &gatewayMetrics{
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thingbridge_gateway_requests_total",
			Help: "HTTP requests received by the gateway",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thingbridge_gateway_responses_total",
			Help: "HTTP responses by status code",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(m.requestsTotal, m.responses)
	}
	return m
}

func (m *gatewayMetrics) observeRequest() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

func (m *gatewayMetrics) observeOutcome(code int) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(strconv.Itoa(code)).Inc()
}
