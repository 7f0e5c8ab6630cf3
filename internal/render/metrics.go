package render

import "github.com/prometheus/client_golang/prometheus"

var (
	renderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "epdrelay_render_duration_seconds",
			Help:    "Time spent rendering an uploaded image",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
	renderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epdrelay_render_failures_total",
			Help: "Image renders that failed",
		},
		[]string{"reason"},
	)
)

// MetricsCollectors returns render collectors for registration.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{renderDuration, renderFailures}
}
