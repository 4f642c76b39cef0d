package grpcserver

import (
	"context"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/vendorportal/core/internal/breaker"
	"github.com/vendorportal/core/internal/health"
)

// HealthServer answers grpc.health.v1 checks from the health aggregator. The
// empty service name reports the portal as a whole; a catalogued service id
// reports that service's circuit.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	agg *health.Aggregator
}

func NewHealthServer(agg *health.Aggregator) *HealthServer {
	return &HealthServer{agg: agg}
}

func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	snap := s.agg.Check(ctx)

	if req.GetService() == "" {
		return &healthpb.HealthCheckResponse{Status: overallStatus(snap.Status)}, nil
	}

	for _, svc := range snap.Services {
		if svc.ServiceID == req.GetService() {
			return &healthpb.HealthCheckResponse{Status: circuitStatus(svc.State)}, nil
		}
	}
	return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
}

func overallStatus(s health.Status) healthpb.HealthCheckResponse_ServingStatus {
	if s == health.StatusUnhealthy {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

func circuitStatus(s breaker.State) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case breaker.StateClosed, breaker.StateHalfOpen:
		return healthpb.HealthCheckResponse_SERVING
	case breaker.StateOpen:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}
