package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterNamedReplacesOnRestart(t *testing.T) {
	r := NewRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thingbridge_test_total", Help: "test counter",
	})
	require.NoError(t, r.RegisterNamed("gateway", first))

	// A component restart registers a fresh collector under the same name.
	second := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thingbridge_test_total", Help: "test counter",
	})
	require.NoError(t, r.RegisterNamed("gateway", second))

	assert.True(t, r.Unregister("gateway"))
	assert.False(t, r.Unregister("gateway"))
}

func TestHandlerServesScrape(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thingbridge_requests_total", Help: "requests",
	})
	require.NoError(t, r.RegisterNamed("gateway", counter))
	counter.Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "thingbridge_requests_total 1")
}
