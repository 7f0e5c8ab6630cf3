package router

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/epdrelay/internal/core"
)

// ServicePrefix namespaces component ids in the gRPC health service.
const ServicePrefix = "epdrelay."

// RegisterComponents registers the health service on the gRPC server and
// seeds it from the component statuses.
func RegisterComponents(server *grpc.Server, status *core.StatusService) *health.Server {
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	Sync(hs, status)
	return hs
}

// Sync copies component health into hs. The empty service name carries the
// overall status.
func Sync(hs *health.Server, status *core.StatusService) {
	for _, st := range status.List() {
		hs.SetServingStatus(ServiceName(st.ID), servingStatus(st.Status))
	}
	hs.SetServingStatus("", servingStatus(status.Overall()))
}

// ServiceName is the health service name of a component.
func ServiceName(componentID string) string {
	return ServicePrefix + componentID
}

func servingStatus(s core.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case core.HealthHealthy, core.HealthDegraded, core.HealthDisabled:
		return healthpb.HealthCheckResponse_SERVING
	case core.HealthError:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}
