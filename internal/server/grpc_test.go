package server

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"asset-register/backend/internal/apperr"
	healthhandler "asset-register/backend/internal/health/handler"
	identityhandler "asset-register/backend/internal/identity/handler"
	identityservice "asset-register/backend/internal/identity/service"
	"asset-register/backend/internal/metrics"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, _ any) {
	m.services = append(m.services, desc.ServiceName)
}

type staticAuth struct{}

func (staticAuth) Authenticate(_ context.Context, token string) (*identityservice.Principal, error) {
	if token != "valid-token" {
		return nil, apperr.ErrTokenExpired
	}
	return &identityservice.Principal{UserID: "u1", Username: "alice", SessionID: "s1"}, nil
}

func TestRegisterServices(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, Deps{Health: healthhandler.NewServer(nil, nil)})
	if len(reg.services) != 2 || reg.services[0] != "grpc.health.v1.Health" || reg.services[1] != identityhandler.ServiceName {
		t.Errorf("services = %v", reg.services)
	}

	reg = &mockServiceRegistrar{}
	RegisterServices(reg, Deps{})
	if len(reg.services) != 1 {
		t.Errorf("without health: services = %v", reg.services)
	}
}

func dial(t *testing.T) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(Deps{
		Auth:    staticAuth{},
		Health:  healthhandler.NewServer(nil, nil),
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPCServer_HealthIsPublic(t *testing.T) {
	conn := dial(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v", resp.GetStatus())
	}
}

func TestGRPCServer_WhoAmI(t *testing.T) {
	conn := dial(t)

	out := new(structpb.Struct)
	err := conn.Invoke(context.Background(), identityhandler.WhoAmIFullMethod, &emptypb.Empty{}, out)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("no token: code = %v", status.Code(err))
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer expired")
	err = conn.Invoke(ctx, identityhandler.WhoAmIFullMethod, &emptypb.Empty{}, out)
	if st, _ := status.FromError(err); st.Code() != codes.Unauthenticated || st.Message() != "token_expired" {
		t.Fatalf("expired token: %v", err)
	}

	ctx = metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer valid-token")
	if err := conn.Invoke(ctx, identityhandler.WhoAmIFullMethod, &emptypb.Empty{}, out); err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	fields := out.GetFields()
	if fields["user_id"].GetStringValue() != "u1" || fields["session_id"].GetStringValue() != "s1" || fields["username"].GetStringValue() != "alice" {
		t.Errorf("identity = %v", out.AsMap())
	}
}
