package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epdrelay_submissions_total",
			Help: "Content accepted from producers",
		},
		[]string{"type"},
	)
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epdrelay_polls_total",
			Help: "Device polls by outcome",
		},
		[]string{"outcome"},
	)
	archiveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "epdrelay_archive_failures_total",
			Help: "Rendered frames that could not be archived",
		},
	)
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{submissionsTotal, pollsTotal, archiveFailures}
}
