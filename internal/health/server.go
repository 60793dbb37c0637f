// Package health exposes process health over the standard gRPC health
// protocol, for orchestrators that probe gRPC rather than HTTP.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the health service name reported for the widget backend.
const ServiceName = "helpinghand.Widget"

const (
	defaultCheckInterval = 15 * time.Second
	checkTimeout         = 2 * time.Second
	defaultStopTimeout   = 5 * time.Second
)

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

// Server serves grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	check  Checker
	logger *slog.Logger

	// stopTimeout bounds how long Stop waits for open streams.
	stopTimeout time.Duration
}

// New creates a health server. A nil check always reports SERVING.
func New(check Checker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gs := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    2 * time.Minute,
		Timeout: 10 * time.Second,
	}))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{
		grpc:        gs,
		health:      hs,
		check:       check,
		logger:      logger.With("component", "grpc_health"),
		stopTimeout: defaultStopTimeout,
	}
	s.set(healthpb.HealthCheckResponse_SERVING)
	return s
}

// ListenAndServe listens on addr and serves until Stop.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health service listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("serve gRPC health: %w", err)
	}
	return nil
}

// StartChecks re-evaluates the checker every interval until ctx is done.
func (s *Server) StartChecks(ctx context.Context, interval time.Duration) {
	if s.check == nil {
		return
	}
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	s.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Refresh runs the checker once and publishes the result.
func (s *Server) Refresh(ctx context.Context) {
	if s.check == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := s.check(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.set(healthpb.HealthCheckResponse_SERVING)
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
// Watch streams never end on their own, so after stopTimeout the remaining
// connections are closed.
func (s *Server) Stop() {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("graceful stop timed out, closing open streams", "timeout", s.stopTimeout)
		s.grpc.Stop()
		<-done
	}
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
