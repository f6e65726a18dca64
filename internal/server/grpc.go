package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"CollateralLedger/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the engine.
const ServiceName = "collateralledger.Engine"

// GRPCServer serves the standard health service and reflection. Serving
// status follows the HealthChecker's readiness.
type GRPCServer struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	grpcAddr      string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

func NewGRPCServer(grpcAddr string, checker *observability.HealthChecker) *GRPCServer {
	logger := observability.NewLogger("grpc")
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		grpcAddr:      grpcAddr,
		healthChecker: checker,
		logger:        logger,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()
	go s.syncHealth(ctx, 5*time.Second)

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// syncHealth mirrors readiness into the gRPC health service.
func (s *GRPCServer) syncHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.UpdateServingStatus(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// UpdateServingStatus runs the readiness checks once and publishes the
// result.
func (s *GRPCServer) UpdateServingStatus(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s.healthChecker != nil && s.healthChecker.IsReady() {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		failures := s.healthChecker.Check(checkCtx)
		cancel()

		if len(failures) == 0 {
			st = healthpb.HealthCheckResponse_SERVING
		}
	}
	s.healthServer.SetServingStatus("", st)
	s.healthServer.SetServingStatus(ServiceName, st)
	return st
}

// Server exposes the underlying server for registering extra services.
func (s *GRPCServer) Server() *grpc.Server {
	return s.grpcServer
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn().Str("method", info.FullMethod).Dur("took", time.Since(start)).Err(err).Msg("grpc call failed")
			return resp, StatusError(err)
		}
		return resp, nil
	}
}
