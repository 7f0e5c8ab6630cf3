package uploads

import "github.com/prometheus/client_golang/prometheus"

var (
	spooledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "epdrelay_uploads_spooled_total",
		Help: "Uploads written to the spool directory",
	})
	sweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "epdrelay_uploads_swept_total",
		Help: "Stale uploads removed by the cleanup task",
	})
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{spooledTotal, sweptTotal}
}
