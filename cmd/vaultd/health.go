package main

import (
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// keeperService is the health service name reported while the keeper runs.
const keeperService = "epochvault.Keeper"

// healthServer exposes the standard gRPC health protocol.
type healthServer struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

func newHealthServer(port string) (*healthServer, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for gRPC health on port %s: %w", port, err)
	}

	hs := &healthServer{grpc: grpc.NewServer(), health: health.NewServer(), lis: lis}
	healthpb.RegisterHealthServer(hs.grpc, hs.health)
	hs.setServing(false)
	return hs, nil
}

func (hs *healthServer) serve() {
	log.Info().Str("addr", hs.lis.Addr().String()).Msg("Starting gRPC health server")
	if err := hs.grpc.Serve(hs.lis); err != nil {
		log.Error().Err(err).Msg("gRPC health server stopped")
	}
}

func (hs *healthServer) setServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.health.SetServingStatus("", status)
	hs.health.SetServingStatus(keeperService, status)
}

func (hs *healthServer) stop() {
	hs.health.Shutdown()
	hs.grpc.GracefulStop()
}
