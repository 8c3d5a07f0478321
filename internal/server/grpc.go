package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// PipelineService is the health service name reported alongside the overall
// ("") status.
const PipelineService = "planning.pipeline"

// NewGRPCServer returns a gRPC server carrying the standard health service
// and reflection (for grpcurl).
func NewGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(PipelineService, healthpb.HealthCheckResponse_NOT_SERVING)
	return srv, hs
}

// WatchHealth mirrors the database ping into hs every interval until ctx ends.
func WatchHealth(ctx context.Context, hs *health.Server, ping func(context.Context) error, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	check := func() {
		st := healthpb.HealthCheckResponse_SERVING
		if err := ping(ctx); err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warn("health.db.failed", "error", err)
		}
		hs.SetServingStatus("", st)
		hs.SetServingStatus(PipelineService, st)
	}
	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			check()
		}
	}
}
