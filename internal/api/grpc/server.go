// Package grpcapi exposes the gRPC health service for the pipeline, with
// per-component serving status.
package grpcapi

import (
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"transcript-pipeline-service/internal/observability"
	"transcript-pipeline-service/internal/observability/metrics"
)

// Components whose health is reported individually.
const (
	ServicePipeline = "transcript.pipeline"
	ServiceStorage  = "transcript.pipeline.storage"
	ServiceProvider = "transcript.pipeline.provider"
	ServiceEvents   = "transcript.pipeline.events"
)

type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer builds a gRPC server with metrics interceptors, the health service
// and reflection. Every component starts NOT_SERVING.
func NewServer(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	for _, svc := range []string{"", ServicePipeline, ServiceStorage, ServiceProvider, ServiceEvents} {
		hs.SetServingStatus(svc, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	return &Server{grpc: g, health: hs}
}

// SetServing updates the status of one component. The overall status ("" and
// ServicePipeline) is managed with MarkServing and Shutdown.
func (s *Server) SetServing(service string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// MarkServing reports the whole pipeline as serving.
func (s *Server) MarkServing() {
	s.SetServing("", true)
	s.SetServing(ServicePipeline, true)
}

// Serve blocks serving lis.
func (s *Server) Serve(lis net.Listener) error {
	log.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server started")
	return s.grpc.Serve(lis)
}

// Shutdown reports every component NOT_SERVING and stops gracefully.
func (s *Server) Shutdown() {
	log.Info().Msg("Shutting down gRPC server")
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
