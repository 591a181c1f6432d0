package main

import (
	"crypto/tls"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// newGRPCServer builds the gRPC server exposing the standard health service,
// over TLS when tlsConfig is non-nil. The returned health server is driven by
// healthStatus on every state change.
func newGRPCServer(tlsConfig *tls.Config) (*grpc.Server, *health.Server) {
	var opts []grpc.ServerOption
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	grpcServer := grpc.NewServer(opts...)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	reflection.Register(grpcServer)
	return grpcServer, healthServer
}

// healthStatus maps a detector state to a gRPC serving status. Only a running
// detector is SERVING.
func healthStatus(s State) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if s == StateRunning {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}
