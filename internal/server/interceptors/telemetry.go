package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"asset-register/backend/internal/metrics"
)

// TelemetryUnary returns a unary server interceptor that counts each RPC by
// method and status code and logs it at debug level. skipMethods is the set of
// full method names to not record (e.g. health checks).
func TelemetryUnary(m *metrics.Metrics, log *zap.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		if m != nil {
			m.GRPCRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
		}
		userID, _ := GetUserID(ctx)
		log.Debug("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("user_id", userID),
		)
		return resp, err
	}
}
