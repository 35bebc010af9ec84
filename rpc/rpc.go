package rpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wfunc/launcher/logger"
)

// ServiceName is the health check name of the lobby.
const ServiceName = "launcher.Lobby"

// Server exposes the standard gRPC health service for the lobby.
type Server struct {
	listener   net.Listener
	address    string
	grpcServer *grpc.Server
	health     *health.Server
}

func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		listener:   listener,
		address:    listener.Addr().String(),
		grpcServer: grpcServer,
		health:     healthServer,
	}, nil
}

func (s *Server) Addr() string {
	return s.address
}

// Start serves until Stop is called.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	if err := s.grpcServer.Serve(s.listener); err != nil {
		logger.Log.Errorf("RPC server stopped: %v", err)
		return
	}
	logger.Log.Info("RPC server listener closed.")
}

// SetServing flips the lobby's health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) Stop() {
	logger.Log.Info("Stopping RPC server.")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
