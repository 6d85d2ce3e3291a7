package handler

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"asset-register/backend/internal/server/interceptors"
)

func TestWhoAmI_RequiresIdentity(t *testing.T) {
	_, err := NewServer().WhoAmI(context.Background(), &emptypb.Empty{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestWhoAmI_ReturnsCaller(t *testing.T) {
	ctx := interceptors.WithIdentity(context.Background(), "u1", "alice", "s1")
	out, err := NewServer().WhoAmI(ctx, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	got := out.AsMap()
	if got["user_id"] != "u1" || got["username"] != "alice" || got["session_id"] != "s1" {
		t.Errorf("got %v", got)
	}
}

func TestWhoAmIHandler_DecodesAndIntercepts(t *testing.T) {
	var seen string
	ctx := interceptors.WithIdentity(context.Background(), "u1", "alice", "s1")
	dec := func(v any) error { return nil }
	resp, err := whoAmIHandler(NewServer(), ctx, dec, func(ctx context.Context, req any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return h(ctx, req)
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if seen != WhoAmIFullMethod || resp == nil {
		t.Errorf("seen = %q, resp = %v", seen, resp)
	}
}
