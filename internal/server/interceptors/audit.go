package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"asset-register/backend/internal/audit"
)

// RequestMetaUnary attaches the caller's address and user agent to the context
// so audit records written while handling the RPC carry them.
func RequestMetaUnary(ips *audit.IPResolver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		meta := audit.RequestMeta{ClientIP: ClientIP(ctx, ips)}
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("user-agent"); len(vals) > 0 {
				meta.UserAgent = strings.TrimSpace(vals[0])
			}
		}
		return handler(audit.WithRequestMeta(ctx, meta), req)
	}
}

// ClientIP returns the client IP from the peer address, honoring x-forwarded-for
// and x-real-ip only when the peer is a trusted proxy. It returns "unknown" when
// nothing parses.
func ClientIP(ctx context.Context, ips *audit.IPResolver) string {
	var remote string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = p.Addr.String()
	}
	var forwarded []string
	var realIP string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		forwarded = md.Get("x-forwarded-for")
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			realIP = vals[0]
		}
	}
	return ips.Resolve(remote, forwarded, realIP)
}
