// Package events announces relay activity (devices appearing, going offline,
// content being queued and delivered) to an MQTT broker.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	DeviceRegistered Type = "device.registered"
	DeviceDiscovered Type = "device.discovered"
	DeviceOffline    Type = "device.offline"
	DefaultChanged   Type = "device.default"
	ContentQueued    Type = "content.queued"
	ContentDelivered Type = "content.delivered"
)

type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Device      string    `json:"device,omitempty"`
	Content     string    `json:"content,omitempty"`
	QueueLength int       `json:"queueLength,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Time        time.Time `json:"time"`
}

// New stamps an event with a fresh id and the current time.
func New(typ Type, device string) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   typ,
		Device: device,
		Time:   time.Now().UTC(),
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}
