package discovery

import "github.com/prometheus/client_golang/prometheus"

var (
	broadcastsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "epdrelay_discovery_broadcasts_total",
		Help: "Discovery probes broadcast",
	})
	broadcastErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "epdrelay_discovery_broadcast_errors_total",
		Help: "Discovery probes that failed to send",
	})
	responsesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "epdrelay_discovery_responses_total",
		Help: "Announcements accepted as heartbeats",
	})
	responsesIgnored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "epdrelay_discovery_ignored_total",
		Help: "Datagrams ignored by the discovery listener",
	})
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{broadcastsSent, broadcastErrors, responsesAccepted, responsesIgnored}
}
