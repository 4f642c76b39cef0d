package grpcserver

import (
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vendorportal/core/internal/config"
	"github.com/vendorportal/core/internal/health"
)

// Server hosts the gRPC health service.
type Server struct {
	grpc *grpc.Server
	addr string
}

func New(cfg config.GRPCConfig, agg *health.Aggregator) *Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(cfg.APIKey)),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(cfg.APIKey)),
	)
	healthpb.RegisterHealthServer(srv, NewHealthServer(agg))

	return &Server{
		grpc: srv,
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
}

// Serve listens on the configured address and blocks until Stop.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.ServeListener(lis)
}

func (s *Server) ServeListener(lis net.Listener) error {
	slog.Info("starting gRPC server", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

func (s *Server) Stop() {
	s.grpc.GracefulStop()
	slog.Info("gRPC server stopped")
}
