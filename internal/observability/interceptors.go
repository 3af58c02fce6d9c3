package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"live-transcript-service/internal/observability/logging"
	"live-transcript-service/internal/observability/metrics"
)

// UnaryServerInterceptor records every unary call (health Check) in metrics and the log.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeCall(&logger, m, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor does the same for streams. Health Watch is the only
// stream the service serves, and it ends when the client goes away.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observeCall(&logger, m, info.FullMethod, "stream", start, err)
		return err
	}
}

func observeCall(logger *zerolog.Logger, m *metrics.Metrics, method, kind string, start time.Time, err error) {
	code := status.Code(err)
	m.RecordGRPCCall(method, code.String())

	ev := logger.Debug()
	switch code {
	case codes.OK, codes.Canceled:
	case codes.Internal, codes.Unknown, codes.DataLoss:
		ev = logger.Error().Err(err)
	default:
		ev = logger.Warn().Err(err)
	}
	ev.Str("method", method).
		Str("kind", kind).
		Str("code", code.String()).
		Dur("duration", time.Since(start)).
		Msg("gRPC call")
}
