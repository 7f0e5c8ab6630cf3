package tasks

import "github.com/prometheus/client_golang/prometheus"

var (
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epdrelay_task_restarts_total",
			Help: "Background tasks restarted after a panic",
		},
		[]string{"task"},
	)
	runs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "epdrelay_task_ticks_total",
			Help: "Periodic task invocations",
		},
	)
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{restarts, runs}
}
