package server

import (
	"context"
	"io"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer serves the standard health service for the worker. Each
// long-running component is reported as its own health service name.
type GRPCServer struct {
	server    *grpc.Server
	healthSrv *health.Server
	logger    *slog.Logger
}

// NewGRPCServer creates a server with the health and reflection services
// registered. Every name in services starts out SERVING.
func NewGRPCServer(logger *slog.Logger, services ...string) *GRPCServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &GRPCServer{
		healthSrv: health.NewServer(),
		logger:    logger.With("component", "GRPCServer"),
	}
	interceptor := NewLoggingInterceptor(logger)
	s.server = grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptor.Unary()),
		grpc.ChainStreamInterceptor(interceptor.Stream()),
	)
	grpc_health_v1.RegisterHealthServer(s.server, s.healthSrv)
	reflection.Register(s.server)
	for _, name := range services {
		s.SetServing(name, true)
	}
	return s
}

// SetServing updates the health status of service.
func (s *GRPCServer) SetServing(service string, serving bool) {
	st := grpc_health_v1.HealthCheckResponse_SERVING
	if !serving {
		st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.healthSrv.SetServingStatus(service, st)
}

// Watch marks service NOT_SERVING once done is closed. It returns when
// either done or ctx is.
func (s *GRPCServer) Watch(ctx context.Context, service string, done <-chan struct{}) {
	select {
	case <-done:
		s.logger.Warn("Component exited, reporting not serving", "service", service)
		s.SetServing(service, false)
	case <-ctx.Done():
	}
}

// Start begins listening for gRPC requests.
func (s *GRPCServer) Start(lis net.Listener) error {
	s.logger.Info("gRPC server listening", "address", lis.Addr().String())
	return s.server.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *GRPCServer) Stop() {
	s.logger.Info("Stopping gRPC server...")
	if s.healthSrv != nil {
		s.healthSrv.Shutdown()
	}
	if s.server != nil {
		s.server.GracefulStop()
	}
	s.logger.Info("gRPC server stopped.")
}
