package main

import (
	"context"
	"net"
	"time"

	"github.com/NordCoder/Campusbell/internal/obs"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// buildGRPCServer exposes the standard health service for orchestrators.
func buildGRPCServer(addr string) (*grpc.Server, *health.Server, net.Listener, error) {
	s := obs.GRPCServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, nil, err
	}
	return s, hs, ln, nil
}

// watchHealth mirrors the storage health check into the gRPC health service.
func watchHealth(ctx context.Context, hs *health.Server, check obs.HealthFunc, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		status := healthpb.HealthCheckResponse_SERVING
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		if err := check(hctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		cancel()
		hs.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			hs.Shutdown()
			return nil
		case <-t.C:
		}
	}
}

func serveGRPC(s *grpc.Server, ln net.Listener, l *zap.Logger) error {
	l.Info("grpc listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ln)
}
