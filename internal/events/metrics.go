package events

import "github.com/prometheus/client_golang/prometheus"

var (
	published = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epdrelay_events_published_total",
			Help: "Events delivered to the broker",
		},
		[]string{"type"},
	)
	publishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epdrelay_events_failed_total",
			Help: "Events the broker did not accept",
		},
		[]string{"type"},
	)
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{published, publishFailures}
}
