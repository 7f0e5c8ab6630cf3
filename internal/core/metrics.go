package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsRegistry builds a registry from component collectors plus the
// process and Go runtime collectors.
func MetricsRegistry(components []Component) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, component := range components {
		for _, collector := range component.Collectors() {
			registry.MustRegister(collector)
		}
	}

	return registry
}
