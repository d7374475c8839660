package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Checker reports the current condition of one part of the bridge.
type Checker func() Status

// Monitor collects health checkers and serves the aggregate over HTTP.
type Monitor struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	started  time.Time
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checkers: make(map[string]Checker),
		started:  time.Now(),
	}
}

// Register adds (or replaces) a named checker.
func (m *Monitor) Register(name string, check Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = check
}

// Check runs every checker and aggregates: any unhealthy part makes the
// bridge unhealthy, any degraded part makes it degraded.
func (m *Monitor) Check() Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]Checker, 0, len(names))
	for _, name := range names {
		checks = append(checks, m.checkers[name])
	}
	m.mu.RUnlock()

	overall := NewStatus("thingbridge", Healthy, "")
	for _, check := range checks {
		sub := check()
		overall = overall.WithSubStatus(sub)
		if sub.IsUnhealthy() {
			overall.Status = Unhealthy
			overall.Healthy = false
		} else if sub.IsDegraded() && overall.IsHealthy() {
			overall.Status = Degraded
			overall.Healthy = false
		}
	}
	return overall
}

// Uptime returns how long the monitor has existed.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.started)
}

// Handler serves the aggregate as JSON: 200 while healthy or degraded,
// 503 once any part is unhealthy.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.Check()

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		data, err := json.Marshal(status)
		if err != nil {
			return
		}
		_, _ = w.Write(data)
	})
}
