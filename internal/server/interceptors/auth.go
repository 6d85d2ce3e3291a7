package interceptors

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"asset-register/backend/internal/apperr"
	identityservice "asset-register/backend/internal/identity/service"
)

const bearerPrefix = "bearer "

// Authenticator resolves an access token to the calling principal.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*identityservice.Principal, error)
}

// AuthUnary returns a unary server interceptor that resolves the Bearer (access)
// token from gRPC metadata through auth, which checks the session as well as the
// JWT, and sets the caller in context. publicMethods is the set of full method
// names that do not require a token (e.g. the health service).
func AuthUnary(auth Authenticator, publicMethods map[string]bool, log *zap.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		token := extractBearer(ctx)
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		p, err := auth.Authenticate(ctx, token)
		if err != nil {
			log.Debug("grpc auth rejected", zap.String("method", info.FullMethod), zap.String("reason", apperr.Code(err)))
			return nil, status.Error(codes.Unauthenticated, apperr.Code(err))
		}
		return handler(WithIdentity(ctx, p.UserID, p.Username, p.SessionID), req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
