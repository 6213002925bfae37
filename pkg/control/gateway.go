package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/core-tools/hsu-unitwatch/pkg/domain"
	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, name unit.Name, logger logging.Logger) domain.Contract {
	return &grpcClientGateway{
		grpcClient: healthpb.NewHealthClient(grpcClientConnection),
		unit:       name,
		logger:     logger,
	}
}

type grpcClientGateway struct {
	grpcClient healthpb.HealthClient
	unit       unit.Name
	logger     logging.Logger
}

func (gw *grpcClientGateway) Status(ctx context.Context) (domain.UnitStatus, error) {
	response, err := gw.grpcClient.Check(ctx, &healthpb.HealthCheckRequest{Service: string(gw.unit)})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			gw.logger.Warnf("Unit is not supervised by this server, unit: %s", gw.unit)
			return domain.StatusUnknown, errors.NewQueryError("unit is not supervised by this server", err).
				WithContext("unit", string(gw.unit))
		}
		gw.logger.Errorf("Status client gateway: %v", err)
		return domain.StatusUnknown, errors.NewIOError("status request failed", err)
	}
	gw.logger.Debugf("Status client gateway done, status: %s", response.Status)

	switch response.Status {
	case healthpb.HealthCheckResponse_SERVING:
		return domain.StatusActive, nil
	case healthpb.HealthCheckResponse_NOT_SERVING:
		return domain.StatusInactive, nil
	default:
		return domain.StatusUnknown, nil
	}
}
