// Package handler reports liveness and readiness over HTTP and keeps the
// standard gRPC health service in step with the same dependency checks.
package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const checkTimeout = 2 * time.Second

// Pinger is a dependency that can report whether it is reachable (e.g. *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server runs readiness checks against named dependencies.
type Server struct {
	checks map[string]Pinger
	grpc   *health.Server
	log    *zap.Logger

	mu       sync.Mutex
	draining bool
}

// NewServer returns a Server checking deps. Nil entries are skipped.
func NewServer(deps map[string]Pinger, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	checks := make(map[string]Pinger, len(deps))
	for name, p := range deps {
		if p != nil {
			checks[name] = p
		}
	}
	return &Server{checks: checks, grpc: health.NewServer(), log: log}
}

// GRPC returns the grpc.health.v1 implementation to register on a gRPC server.
func (s *Server) GRPC() *health.Server { return s.grpc }

// Check pings every dependency and returns the failures by name.
func (s *Server) Check(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = map[string]error{}
	)
	for name, p := range s.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Ping(ctx); err != nil {
				mu.Lock()
				failures[name] = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return failures
}

// Names returns the checked dependency names in order.
func (s *Server) Names() []string {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Refresh runs the checks once and publishes the result to the gRPC health service.
func (s *Server) Refresh(ctx context.Context) bool {
	failures := s.Check(ctx)
	for name, err := range failures {
		s.log.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
	}
	ready := len(failures) == 0 && !s.isDraining()
	st := healthpb.HealthCheckResponse_SERVING
	if !ready {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.grpc.SetServingStatus("", st)
	return ready
}

// Watch refreshes the gRPC status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}

// Drain marks the service not ready so load balancers stop routing to it
// before shutdown.
func (s *Server) Drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.grpc.Shutdown()
}

func (s *Server) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}
