package health

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorAggregation(t *testing.T) {
	m := NewMonitor()
	m.Register("nats", func() Status { return NewStatus("nats", Healthy, "") })
	m.Register("pool", func() Status { return NewStatus("pool", Healthy, "") })

	status := m.Check()
	assert.True(t, status.IsHealthy())
	assert.Len(t, status.SubStatuses, 2)

	m.Register("pool", func() Status { return NewStatus("pool", Degraded, "2 broken bindings") })
	status = m.Check()
	assert.True(t, status.IsDegraded())

	m.Register("nats", func() Status { return NewStatus("nats", Unhealthy, "disconnected") })
	status = m.Check()
	assert.True(t, status.IsUnhealthy())
}

func TestHandlerStatusCodes(t *testing.T) {
	m := NewMonitor()
	m.Register("nats", func() Status { return NewStatus("nats", Healthy, "") })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "thingbridge", status.Component)

	m.Register("nats", func() Status { return NewStatus("nats", Unhealthy, "disconnected") })
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 503, rec.Code)
}

func TestSanitizeMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"nats url", "connect to nats://broker.internal:4222 failed", "connect to [URL] failed"},
		{"http url", "fetch https://internal.example/config failed", "fetch [URL] failed"},
		{"ip address", "dial 192.168.1.100 refused", "dial [IP] refused"},
		{"credential", "auth password=hunter2 rejected", "auth password=[REDACTED] rejected"},
		{"plain message", "handshake timed out", "handshake timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewStatus("x", Unhealthy, tt.in).Message)
		})
	}
}
