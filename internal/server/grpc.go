// Package server assembles the internal gRPC server: the standard health
// service and the identity resolver behind the auth interceptor chain.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"asset-register/backend/internal/audit"
	healthhandler "asset-register/backend/internal/health/handler"
	identityhandler "asset-register/backend/internal/identity/handler"
	"asset-register/backend/internal/metrics"
	"asset-register/backend/internal/server/interceptors"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// PublicMethods do not require a Bearer token.
var PublicMethods = map[string]bool{
	healthCheckMethod:              true,
	"/grpc.health.v1.Health/List":  true,
	"/grpc.health.v1.Health/Watch": true,
}

// Deps holds the collaborators of the gRPC server.
type Deps struct {
	// Auth resolves access tokens for protected RPCs.
	Auth interceptors.Authenticator
	// IPs derives client addresses for audit records. Nil trusts no proxy.
	IPs *audit.IPResolver
	// Health backs grpc.health.v1. If nil, the health service is not registered.
	Health  *healthhandler.Server
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// NewGRPCServer returns a server with tracing, request metadata, auth and
// telemetry interceptors installed and every service registered.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	if deps.IPs == nil {
		deps.IPs = audit.NewIPResolver(nil)
	}
	skip := map[string]bool{healthCheckMethod: true}
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RequestMetaUnary(deps.IPs),
			interceptors.AuthUnary(deps.Auth, PublicMethods, deps.Log),
			interceptors.TelemetryUnary(deps.Metrics, deps.Log, skip),
		),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all gRPC services with the given registrar.
//
//   - grpc.health.v1.Health                      → internal/health/handler
//   - assetregister.identity.v1.IdentityService  → internal/identity/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health.GRPC())
	}
	identityhandler.Register(s, identityhandler.NewServer())
}
