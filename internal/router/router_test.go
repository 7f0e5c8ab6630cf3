package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/epdrelay/internal/core"
)

func TestRegisterComponentsReportsHealth(t *testing.T) {
	registry := core.NewProbe(core.Manifest{ID: "registry"})
	discovery := core.NewProbe(core.Manifest{ID: "discovery"})
	status := core.NewStatusService([]core.Component{registry, discovery})

	server := grpc.NewServer()
	hs := RegisterComponents(server, status)

	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "epdrelay.registry"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	discovery.Set(core.HealthError, "bind failed")
	Sync(hs, status)

	resp, err = hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "epdrelay.discovery"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	resp, err = hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	_, err = hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "epdrelay.missing"})
	require.Error(t, err)
}
