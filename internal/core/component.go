package core

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// HealthStatus represents component health states for status reporting.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
	HealthDisabled HealthStatus = "DISABLED"
)

// Dashboard is a Grafana dashboard asset shipped with a component.
type Dashboard struct {
	Name string
	JSON []byte
}

// Manifest describes a component for status listings.
type Manifest struct {
	ID          string
	DisplayName string
	Version     string
}

// Component is one subsystem of the relay that reports health and metrics.
type Component interface {
	ID() string
	Manifest() Manifest
	Dashboards() []Dashboard
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// Probe is a Component assembled from parts. Its health can be set directly
// or computed by Check on every read.
type Probe struct {
	Info    Manifest
	Metrics []prometheus.Collector
	Boards  []Dashboard
	// Check, when set, overrides the stored health.
	Check func() (HealthStatus, string)

	mu      sync.RWMutex
	status  HealthStatus
	message string
}

func NewProbe(info Manifest, collectors ...prometheus.Collector) *Probe {
	return &Probe{Info: info, Metrics: collectors, status: HealthHealthy}
}

func (p *Probe) ID() string                         { return p.Info.ID }
func (p *Probe) Manifest() Manifest                 { return p.Info }
func (p *Probe) Dashboards() []Dashboard            { return p.Boards }
func (p *Probe) Collectors() []prometheus.Collector { return p.Metrics }

func (p *Probe) Health() HealthStatus {
	status, _ := p.read()
	return status
}

func (p *Probe) HealthMessage() string {
	_, msg := p.read()
	return msg
}

// Set records the current health.
func (p *Probe) Set(status HealthStatus, message string) {
	p.mu.Lock()
	p.status = status
	p.message = message
	p.mu.Unlock()
}

func (p *Probe) read() (HealthStatus, string) {
	if p.Check != nil {
		return p.Check()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.status == "" {
		return HealthHealthy, p.message
	}
	return p.status, p.message
}
