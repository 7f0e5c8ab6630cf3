package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidAddress is returned for identifiers that are not IPv4 dotted quads.
	ErrInvalidAddress = errors.New("invalid IP address format")
	// ErrUnknownDevice is returned for addresses that were never registered.
	ErrUnknownDevice = errors.New("device not registered")
)

const (
	DefaultPollTimeout      = 10 * time.Minute
	DefaultDiscoveryTimeout = 20 * time.Second
)

// Config tunes liveness and queue behavior.
type Config struct {
	PollTimeout      time.Duration
	DiscoveryTimeout time.Duration
	// MaxQueueLength bounds each device queue; 0 means unbounded. When the
	// bound is hit the oldest item is dropped.
	MaxQueueLength int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Registry tracks known displays, their liveness and the default target.
// Membership is guarded by mu; each record guards its own state.
type Registry struct {
	cfg    Config
	logger zerolog.Logger

	mu            sync.RWMutex
	devices       map[string]*record
	order         []string
	defaultTarget string
}

// SweepResult lists the addresses that went offline during a sweep.
type SweepResult struct {
	Poll      []string
	Discovery []string
}

func NewRegistry(cfg Config, logger zerolog.Logger) *Registry {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger.With().Str("component", "registry").Logger(),
		devices: make(map[string]*record),
	}
}

// Queues returns the content queue view of this registry.
func (r *Registry) Queues() *Queues {
	return &Queues{reg: r}
}

// Register adds the device if needed and marks its poll view online.
func (r *Registry) Register(address string) error {
	if !IsValidAddress(address) {
		return fmt.Errorf("register %q: %w", address, ErrInvalidAddress)
	}
	now := r.cfg.Now()
	rec, created := r.getOrCreate(address, now)

	rec.mu.Lock()
	rec.pollStatus = LivenessOnline
	rec.lastPoll = now
	rec.mu.Unlock()

	if created {
		r.logger.Info().Str("ip", address).Msg("device registered")
	}
	return nil
}

// SetDefaultTarget makes address the sole default target, registering it
// first when unknown. A device registered this way has not been heard from,
// so its liveness stays unknown.
func (r *Registry) SetDefaultTarget(address string) error {
	if !IsValidAddress(address) {
		return fmt.Errorf("set default %q: %w", address, ErrInvalidAddress)
	}
	_, created := r.getOrCreate(address, r.cfg.Now())

	r.mu.Lock()
	r.defaultTarget = address
	r.mu.Unlock()

	if created {
		r.logger.Info().Str("ip", address).Msg("device registered")
	}
	r.logger.Info().Str("ip", address).Msg("default device set")
	return nil
}

// DefaultTarget returns the current default device, or "" when unset.
func (r *Registry) DefaultTarget() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultTarget
}

// RecordPoll refreshes the poll view of a registered device.
func (r *Registry) RecordPoll(address string) error {
	rec, ok := r.lookup(address)
	if !ok {
		return fmt.Errorf("poll %q: %w", address, ErrUnknownDevice)
	}
	now := r.cfg.Now()
	rec.mu.Lock()
	rec.pollStatus = LivenessOnline
	rec.lastPoll = now
	rec.mu.Unlock()
	return nil
}

// RecordDiscoveryHeartbeat refreshes the discovery view, registering the
// device when it is new. It reports whether the device was created.
func (r *Registry) RecordDiscoveryHeartbeat(address string) (bool, error) {
	if !IsValidAddress(address) {
		return false, fmt.Errorf("discovery heartbeat %q: %w", address, ErrInvalidAddress)
	}
	now := r.cfg.Now()
	rec, created := r.getOrCreate(address, now)

	rec.mu.Lock()
	rec.discoveryStatus = LivenessOnline
	rec.lastHeartbeat = now
	rec.mu.Unlock()

	if created {
		r.logger.Info().Str("ip", address).Msg("device discovered")
	}
	return created, nil
}

// RecordHeartbeat refreshes the discovery view of a known device. Unknown or
// malformed addresses are ignored and reported as false.
func (r *Registry) RecordHeartbeat(address string) bool {
	rec, ok := r.lookup(address)
	if !ok {
		return false
	}
	now := r.cfg.Now()
	rec.mu.Lock()
	rec.discoveryStatus = LivenessOnline
	rec.lastHeartbeat = now
	rec.mu.Unlock()
	return true
}

// Known reports whether address is registered.
func (r *Registry) Known(address string) bool {
	_, ok := r.lookup(address)
	return ok
}

// List returns snapshots of every device in registration order.
func (r *Registry) List() []Device {
	return r.ListAt(r.cfg.Now())
}

// ListAt returns snapshots with liveness evaluated at now.
func (r *Registry) ListAt(now time.Time) []Device {
	r.mu.RLock()
	records := make([]*record, 0, len(r.order))
	for _, addr := range r.order {
		records = append(records, r.devices[addr])
	}
	def := r.defaultTarget
	r.mu.RUnlock()

	out := make([]Device, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		out = append(out, Device{
			Address:       rec.address,
			Default:       rec.address == def,
			Status:        liveness(rec.pollStatus, rec.lastPoll, rec.registeredAt, r.cfg.PollTimeout, now),
			LastPoll:      rec.lastPoll,
			Discovery:     liveness(rec.discoveryStatus, rec.lastHeartbeat, rec.registeredAt, r.cfg.DiscoveryTimeout, now),
			LastHeartbeat: rec.lastHeartbeat,
			RegisteredAt:  rec.registeredAt,
			QueueLength:   len(rec.queue),
		})
		rec.mu.Unlock()
	}
	return out
}

// SweepTimeouts moves every stale view to offline.
func (r *Registry) SweepTimeouts(now time.Time) SweepResult {
	r.mu.RLock()
	records := make([]*record, 0, len(r.devices))
	for _, addr := range r.order {
		records = append(records, r.devices[addr])
	}
	r.mu.RUnlock()

	var result SweepResult
	for _, rec := range records {
		rec.mu.Lock()
		if rec.pollStatus != LivenessOffline &&
			liveness(rec.pollStatus, rec.lastPoll, rec.registeredAt, r.cfg.PollTimeout, now) == LivenessOffline {
			rec.pollStatus = LivenessOffline
			result.Poll = append(result.Poll, rec.address)
		}
		if rec.discoveryStatus != LivenessOffline &&
			liveness(rec.discoveryStatus, rec.lastHeartbeat, rec.registeredAt, r.cfg.DiscoveryTimeout, now) == LivenessOffline {
			rec.discoveryStatus = LivenessOffline
			result.Discovery = append(result.Discovery, rec.address)
		}
		rec.mu.Unlock()
	}

	for _, addr := range result.Poll {
		r.logger.Info().
			Str("ip", addr).
			Dur("timeout", r.cfg.PollTimeout).
			Msg("device marked offline, no polls")
	}
	for _, addr := range result.Discovery {
		r.logger.Debug().
			Str("ip", addr).
			Dur("timeout", r.cfg.DiscoveryTimeout).
			Msg("device discovery heartbeat expired")
	}
	return result
}

// Now returns the registry clock.
func (r *Registry) Now() time.Time {
	return r.cfg.Now()
}

func (r *Registry) lookup(address string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.devices[address]
	return rec, ok
}

func (r *Registry) getOrCreate(address string, now time.Time) (*record, bool) {
	if rec, ok := r.lookup(address); ok {
		return rec, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.devices[address]; ok {
		return rec, false
	}
	rec := newRecord(address, now)
	r.devices[address] = rec
	r.order = append(r.order, address)
	return rec, true
}
