// Package handler exposes the identity resolver to internal collaborators over
// gRPC. The service is described by hand and carries well-known protobuf types,
// so no generated stubs are needed.
package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"asset-register/backend/internal/server/interceptors"
)

const (
	ServiceName      = "assetregister.identity.v1.IdentityService"
	WhoAmIFullMethod = "/" + ServiceName + "/WhoAmI"
)

// IdentityServer is the server API for the identity service.
type IdentityServer interface {
	// WhoAmI returns the caller resolved by the auth interceptor.
	WhoAmI(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// ServiceDesc describes the identity service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IdentityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "WhoAmI", Handler: whoAmIHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "assetregister/identity/v1/identity.proto",
}

func whoAmIHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WhoAmIFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IdentityServer).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements IdentityServer.
type Server struct{}

// NewServer returns a new identity gRPC server.
func NewServer() *Server {
	return &Server{}
}

// Register adds the identity service to s.
func Register(s grpc.ServiceRegistrar, srv IdentityServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// WhoAmI returns user_id, username and session_id of the caller.
func (s *Server) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok || userID == "" {
		return nil, status.Error(codes.Unauthenticated, "missing identity")
	}
	username, _ := interceptors.GetUsername(ctx)
	sessionID, _ := interceptors.GetSessionID(ctx)
	return structpb.NewStruct(map[string]any{
		"user_id":    userID,
		"username":   username,
		"session_id": sessionID,
	})
}
