package components

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/epdrelay/internal/core"
	"github.com/joshp123/epdrelay/internal/device"
	"github.com/joshp123/epdrelay/internal/uploads"
)

type fakeConn struct{ up bool }

func (c *fakeConn) Connected() bool { return c.up }

func TestComponentsRegisterCleanly(t *testing.T) {
	reg := device.NewRegistry(device.Config{}, zerolog.Nop())
	spool, err := uploads.New(t.TempDir(), 0, zerolog.Nop())
	require.NoError(t, err)

	all := []core.Component{
		Relay(reg),
		Discovery(true),
		Events(nil),
		Archive(false),
		Uploads(spool),
	}
	require.NoError(t, core.ValidateComponents(all))

	registry := core.MetricsRegistry(all)
	_, err = registry.Gather()
	require.NoError(t, err)

	dashboards := core.DashboardsMap(all)
	data, ok := dashboards["/dashboards/relay/relay-overview.json"]
	require.True(t, ok)
	assert.True(t, json.Valid(data))

	status := core.NewStatusService(all)
	assert.Equal(t, core.HealthHealthy, status.Overall())
	st, ok := status.Describe("events")
	require.True(t, ok)
	assert.Equal(t, core.HealthDisabled, st.Status)
}

func TestRelayHealthFollowsDevices(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := device.NewRegistry(device.Config{
		PollTimeout: time.Minute,
		Now:         func() time.Time { return now },
	}, zerolog.Nop())
	probe := Relay(reg)

	assert.Equal(t, core.HealthHealthy, probe.Health())

	require.NoError(t, reg.Register("10.0.0.5"))
	assert.Equal(t, core.HealthHealthy, probe.Health())
	assert.Equal(t, "1 of 1 devices online", probe.HealthMessage())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, core.HealthDegraded, probe.Health())
}

func TestEventsHealthFollowsConnection(t *testing.T) {
	conn := &fakeConn{up: true}
	probe := Events(conn)
	assert.Equal(t, core.HealthHealthy, probe.Health())

	conn.up = false
	assert.Equal(t, core.HealthDegraded, probe.Health())
	assert.Equal(t, "broker disconnected", probe.HealthMessage())
}

func TestDisabledProbes(t *testing.T) {
	assert.Equal(t, core.HealthDisabled, Discovery(false).Health())
	assert.Equal(t, core.HealthDisabled, Archive(false).Health())
	assert.Equal(t, core.HealthHealthy, Archive(true).Health())
}
