// Package metric owns the bridge's Prometheus registry and the handler
// that exposes it. Packages register their collectors through the
// standard Registerer interface; names are prefixed per component to
// keep collisions impossible.
package metric

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry wraps a dedicated Prometheus registry so the bridge never
// pollutes (or is polluted by) the global default registry.
type Registry struct {
	registry *prometheus.Registry

	mu    sync.Mutex
	owned map[string]prometheus.Collector
}

// NewRegistry creates a registry preloaded with process and Go runtime
// collectors.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		owned:    make(map[string]prometheus.Collector),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Prometheus returns the underlying registry for handler wiring.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// Registerer returns the interface component packages register against.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// RegisterNamed registers a collector under a tracked name so it can be
// replaced when a component restarts.
func (r *Registry) RegisterNamed(name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.owned[name]; ok {
		r.registry.Unregister(old)
	}
	if err := r.registry.Register(c); err != nil {
		return fmt.Errorf("metric.Registry.RegisterNamed: register %s: %w", name, err)
	}
	r.owned[name] = c
	return nil
}

// Unregister removes a tracked collector.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.owned[name]
	if !ok {
		return false
	}
	delete(r.owned, name)
	return r.registry.Unregister(c)
}
