// Package components describes the relay's subsystems to the status,
// metrics and gRPC health surfaces.
package components

import (
	_ "embed"
	"fmt"

	"github.com/joshp123/epdrelay/internal/core"
	"github.com/joshp123/epdrelay/internal/device"
	"github.com/joshp123/epdrelay/internal/discovery"
	"github.com/joshp123/epdrelay/internal/events"
	"github.com/joshp123/epdrelay/internal/rate"
	"github.com/joshp123/epdrelay/internal/relay"
	"github.com/joshp123/epdrelay/internal/render"
	"github.com/joshp123/epdrelay/internal/tasks"
	"github.com/joshp123/epdrelay/internal/uploads"
)

//go:embed dashboard.json
var dashboardJSON []byte

// Version is reported in every manifest.
var Version = "0.1.0"

// Relay covers the registry, queues, rendering and the poll throttle. It is
// degraded while devices are registered but none has polled recently.
func Relay(reg *device.Registry) *core.Probe {
	collectors := device.MetricsCollectors(reg)
	collectors = append(collectors, relay.MetricsCollectors()...)
	collectors = append(collectors, render.MetricsCollectors()...)
	collectors = append(collectors, rate.MetricsCollectors()...)
	collectors = append(collectors, tasks.MetricsCollectors()...)

	p := core.NewProbe(core.Manifest{ID: "relay", DisplayName: "EPD relay", Version: Version}, collectors...)
	p.Boards = []core.Dashboard{{Name: "relay-overview", JSON: dashboardJSON}}
	p.Check = func() (core.HealthStatus, string) {
		devices := reg.List()
		if len(devices) == 0 {
			return core.HealthHealthy, "no devices registered"
		}
		online := 0
		for _, d := range devices {
			if d.Status == device.LivenessOnline {
				online++
			}
		}
		msg := fmt.Sprintf("%d of %d devices online", online, len(devices))
		if online == 0 {
			return core.HealthDegraded, msg
		}
		return core.HealthHealthy, msg
	}
	return p
}

// Discovery starts healthy; the server marks it in error when the UDP
// service stops.
func Discovery(enabled bool) *core.Probe {
	p := core.NewProbe(core.Manifest{ID: "discovery", DisplayName: "UDP discovery", Version: Version},
		discovery.MetricsCollectors()...)
	if !enabled {
		p.Set(core.HealthDisabled, "discovery disabled")
	}
	return p
}

// Connection is satisfied by *events.MQTTPublisher.
type Connection interface {
	Connected() bool
}

// Events follows the broker connection; a nil conn means events are off.
func Events(conn Connection) *core.Probe {
	p := core.NewProbe(core.Manifest{ID: "events", DisplayName: "MQTT events", Version: Version},
		events.MetricsCollectors()...)
	if conn == nil {
		p.Set(core.HealthDisabled, "no broker configured")
		return p
	}
	p.Check = func() (core.HealthStatus, string) {
		if conn.Connected() {
			return core.HealthHealthy, ""
		}
		return core.HealthDegraded, "broker disconnected"
	}
	return p
}

// Archive reports whether rendered frames are being stored.
func Archive(enabled bool) *core.Probe {
	p := core.NewProbe(core.Manifest{ID: "archive", DisplayName: "Frame archive", Version: Version})
	if !enabled {
		p.Set(core.HealthDisabled, "no archive configured")
	}
	return p
}

func Uploads(spool *uploads.Spool) *core.Probe {
	p := core.NewProbe(core.Manifest{ID: "uploads", DisplayName: "Upload spool", Version: Version},
		uploads.MetricsCollectors()...)
	p.Set(core.HealthHealthy, spool.Dir())
	return p
}
