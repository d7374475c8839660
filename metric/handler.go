package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the scrape endpoint for the registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		// A single broken collector should not take the whole scrape down.
		ErrorHandling: promhttp.ContinueOnError,
	})
}
