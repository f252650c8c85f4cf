// Package grpcserver exposes the standard gRPC health service so
// orchestrators can probe the API process over gRPC.
package grpcserver

import (
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	flog "fintrack/internal/log"
)

// ServiceName is the health entry reported alongside the overall "" status.
const ServiceName = "fintrack.API"

type Server struct {
	addr   string
	lis    net.Listener
	health *health.Server
	logger *flog.Logger
	Server *grpc.Server
}

// New builds a server that starts out NOT_SERVING.
func New(addr string, logger *flog.Logger) *Server {
	if logger == nil {
		logger = flog.New(flog.DefaultConfig())
	}
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	srv := &Server{
		addr:   addr,
		health: hs,
		logger: logger.WithComponent(flog.ComponentGRPC),
		Server: s,
	}
	srv.SetServing(false)
	return srv
}

// SetServing flips both the overall and the named service status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Start listens on the configured address and blocks serving.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve blocks serving on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.lis = lis
	s.logger.Info("gRPC health server listening", flog.FieldAddr, lis.Addr().String())
	if err := s.Server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop reports NOT_SERVING to watchers, then drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.Server.GracefulStop()
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
