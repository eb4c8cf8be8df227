// Package grpc serves the standard gRPC health service, reporting cluster connectivity, plus
// server reflection.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ClusterServiceName is the health service name whose status tracks cluster connectivity.
// The empty service name reports the process itself.
const ClusterServiceName = "devportal.cluster"

const (
	defaultProbeInterval = 15 * time.Second
	probeTimeout         = 5 * time.Second
)

// ClusterProber checks connectivity to the cluster.
type ClusterProber interface {
	TestConnection(ctx context.Context) error
}

// Server represents the gRPC health server
type Server struct {
	server        *grpc.Server
	healthServer  *health.Server
	cluster       ClusterProber
	port          int
	probeInterval time.Duration
	log           *slog.Logger

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewServer creates a new gRPC server instance. A zero probeInterval uses 15s.
func NewServer(port int, cluster ClusterProber, probeInterval time.Duration, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if probeInterval <= 0 {
		probeInterval = defaultProbeInterval
	}
	s := grpc.NewServer(
		grpc.ConnectionTimeout(30*time.Second),
		grpc.ChainUnaryInterceptor(loggingInterceptor(log)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ClusterServiceName, grpc_health_v1.HealthCheckResponse_UNKNOWN)

	// Enable reflection for grpcurl and friends
	reflection.Register(s)

	return &Server{
		server:        s,
		healthServer:  healthServer,
		cluster:       cluster,
		port:          port,
		probeInterval: probeInterval,
		log:           log,
	}
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.log.Info("gRPC server starting", "address", addr)
	s.Serve(ctx, listener)
	return nil
}

// Serve serves on listener in the background and starts the cluster probe.
func (s *Server) Serve(ctx context.Context, listener net.Listener) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.watchCluster(ctx)
	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.log.Error("gRPC server failed", "error", err)
		}
	}()
}

func (s *Server) watchCluster(ctx context.Context) {
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()
	for {
		s.probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probe updates the cluster health status.
func (s *Server) probe(ctx context.Context) {
	if s.cluster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := s.cluster.TestConnection(ctx); err != nil {
		if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			return
		}
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		s.log.Warn("Cluster health probe failed", "error", err)
	}
	s.healthServer.SetServingStatus(ClusterServiceName, status)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("Stopping gRPC server")
		if s.cancel != nil {
			s.cancel()
		}
		s.healthServer.Shutdown()

		stopped := make(chan struct{})
		go func() {
			s.server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
			s.log.Info("gRPC server stopped gracefully")
		case <-time.After(5 * time.Second):
			s.log.Warn("gRPC server forced to stop after timeout")
			s.server.Stop()
		}
	})
}

func loggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("gRPC request", "method", info.FullMethod, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return resp, err
	}
}
