package device

import (
	"sync"
	"time"

	"github.com/joshp123/epdrelay/internal/content"
)

// Liveness is the online/offline classification of one heartbeat source.
type Liveness string

const (
	LivenessUnknown Liveness = "unknown"
	LivenessOnline  Liveness = "online"
	LivenessOffline Liveness = "offline"
)

// View selects which heartbeat source a liveness value was computed from.
type View string

const (
	// ViewPoll is fed by register and poll calls.
	ViewPoll View = "poll"
	// ViewDiscovery is fed by UDP discovery responses and HTTP heartbeats.
	ViewDiscovery View = "discovery"
)

// Device is a point-in-time copy of one registry record.
type Device struct {
	Address       string
	Default       bool
	Status        Liveness
	LastPoll      time.Time
	Discovery     Liveness
	LastHeartbeat time.Time
	RegisteredAt  time.Time
	QueueLength   int
}

// record is the single aggregate per device: both liveness views and the
// content queue live here and are guarded by the record's own mutex.
type record struct {
	mu sync.Mutex

	address      string
	registeredAt time.Time

	pollStatus Liveness
	lastPoll   time.Time

	discoveryStatus Liveness
	lastHeartbeat   time.Time

	queue []content.Item
}

func newRecord(address string, now time.Time) *record {
	return &record{
		address:         address,
		registeredAt:    now,
		pollStatus:      LivenessUnknown,
		discoveryStatus: LivenessUnknown,
	}
}

// liveness computes the effective state of one view at now. A view that has
// never seen a heartbeat is measured from registration time.
func liveness(status Liveness, last, registeredAt time.Time, timeout time.Duration, now time.Time) Liveness {
	if status == LivenessOffline {
		return LivenessOffline
	}
	ref := last
	if ref.IsZero() {
		ref = registeredAt
	}
	if timeout > 0 && now.Sub(ref) > timeout {
		return LivenessOffline
	}
	return status
}
