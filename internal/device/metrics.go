package device

import "github.com/prometheus/client_golang/prometheus"

var (
	enqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epdrelay_queue_enqueued_total",
			Help: "Items appended to device queues",
		},
		[]string{"type"},
	)
	dequeuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epdrelay_queue_dequeued_total",
			Help: "Items delivered to polling devices",
		},
		[]string{"type"},
	)
	droppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "epdrelay_queue_dropped_total",
			Help: "Items dropped because a device queue hit its bound",
		},
	)
)

// MetricsCollector exports registry state computed at scrape time.
type MetricsCollector struct {
	reg *Registry

	devices     *prometheus.Desc
	queueLength *prometheus.Desc
	lastPoll    *prometheus.Desc
}

func NewMetricsCollector(reg *Registry) *MetricsCollector {
	return &MetricsCollector{
		reg: reg,
		devices: prometheus.NewDesc(
			"epdrelay_devices",
			"Known devices by liveness view and state",
			[]string{"view", "state"}, nil,
		),
		queueLength: prometheus.NewDesc(
			"epdrelay_queue_length",
			"Items waiting in a device queue",
			[]string{"ip"}, nil,
		),
		lastPoll: prometheus.NewDesc(
			"epdrelay_device_last_poll_timestamp_seconds",
			"Last poll timestamp (epoch seconds, 0 if never)",
			[]string{"ip"}, nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.devices
	ch <- c.queueLength
	ch <- c.lastPoll
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	counts := map[View]map[Liveness]int{
		ViewPoll:      {LivenessUnknown: 0, LivenessOnline: 0, LivenessOffline: 0},
		ViewDiscovery: {LivenessUnknown: 0, LivenessOnline: 0, LivenessOffline: 0},
	}
	for _, dev := range c.reg.List() {
		counts[ViewPoll][dev.Status]++
		counts[ViewDiscovery][dev.Discovery]++
		ch <- prometheus.MustNewConstMetric(c.queueLength, prometheus.GaugeValue, float64(dev.QueueLength), dev.Address)
		var last float64
		if !dev.LastPoll.IsZero() {
			last = float64(dev.LastPoll.Unix())
		}
		ch <- prometheus.MustNewConstMetric(c.lastPoll, prometheus.GaugeValue, last, dev.Address)
	}
	for view, states := range counts {
		for state, n := range states {
			ch <- prometheus.MustNewConstMetric(c.devices, prometheus.GaugeValue, float64(n), string(view), string(state))
		}
	}
}

// MetricsCollectors returns the registry collector and the shared queue counters.
func MetricsCollectors(reg *Registry) []prometheus.Collector {
	return []prometheus.Collector{
		NewMetricsCollector(reg),
		enqueuedTotal,
		dequeuedTotal,
		droppedTotal,
	}
}
