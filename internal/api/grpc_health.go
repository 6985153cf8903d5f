package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ashureev/studyrelay/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the service name reported by the gRPC health server.
const HealthServiceName = "studyrelay"

const healthProbeInterval = 15 * time.Second

// GRPCHealth exposes the standard gRPC health service backed by store pings.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
	repo   store.Repository
	lis    net.Listener
}

// NewGRPCHealth listens on addr and registers the health service.
func NewGRPCHealth(addr string, repo store.Repository) (*GRPCHealth, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen grpc health on %s: %w", addr, err)
	}
	g := &GRPCHealth{
		server: grpc.NewServer(),
		health: health.NewServer(),
		repo:   repo,
		lis:    lis,
	}
	healthpb.RegisterHealthServer(g.server, g.health)
	g.probe(context.Background())
	return g, nil
}

// Addr returns the listening address.
func (g *GRPCHealth) Addr() net.Addr {
	return g.lis.Addr()
}

// Serve probes the store until ctx is done and serves health checks until
// Stop is called.
func (g *GRPCHealth) Serve(ctx context.Context) error {
	go func() {
		ticker := time.NewTicker(healthProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.probe(ctx)
			}
		}
	}()

	slog.Info("gRPC health listening", "addr", g.lis.Addr().String())
	if err := g.server.Serve(g.lis); err != nil {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}

// Stop marks every service as not serving and stops the server.
func (g *GRPCHealth) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}

func (g *GRPCHealth) probe(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if g.repo != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := g.repo.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Warn("Store health probe failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(HealthServiceName, status)
}
