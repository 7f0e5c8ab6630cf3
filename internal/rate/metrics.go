package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	allowedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epdrelay_throttle_allowed_total",
			Help: "Calls admitted by a throttle policy",
		},
		[]string{"policy"},
	)
	throttledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epdrelay_throttle_rejected_total",
			Help: "Calls rejected by a throttle policy",
		},
		[]string{"policy"},
	)
	trackedKeys = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "epdrelay_throttle_tracked_keys",
			Help: "Keys with throttle state",
		},
		[]string{"policy"},
	)
)

// MetricsCollectors exposes shared throttle collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		allowedTotal,
		throttledTotal,
		trackedKeys,
	}
}
