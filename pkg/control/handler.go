package control

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

// HealthHandler mirrors the supervised unit into the standard gRPC health
// service: the unit name is the service name, SERVING means active. It is an
// EventSink, so it only ever sees published snapshots.
type HealthHandler struct {
	unit   unit.Name
	server *health.Server
	logger logging.Logger
}

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, name unit.Name, logger logging.Logger) *HealthHandler {
	server := health.NewServer()
	server.SetServingStatus(string(name), healthpb.HealthCheckResponse_UNKNOWN)
	healthpb.RegisterHealthServer(grpcServerRegistrar, server)

	return &HealthHandler{
		unit:   name,
		server: server,
		logger: logger,
	}
}

func (h *HealthHandler) OnSnapshotChanged(snapshot unit.Snapshot) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if snapshot.Active {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(string(h.unit), status)
	h.logger.Debugf("Health status updated, unit: %s, status: %s", h.unit, status)
}

func (h *HealthHandler) OnActionFailed(unit.ActionRequest, string) {}

func (h *HealthHandler) OnLogsReady(unit.LogText) {}

// Shutdown marks every service NOT_SERVING so watchers see the supervisor go away
func (h *HealthHandler) Shutdown() {
	h.server.Shutdown()
}
