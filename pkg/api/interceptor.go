package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/ftb/pkg/log"
	"github.com/cuemby/ftb/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReadOnlyInterceptor creates a gRPC unary interceptor that only allows read-only operations.
// This is used for the Unix socket listener so local tools can inspect but not mutate state.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(codes.PermissionDenied,
				"%s not allowed on the local socket - connect over TCP", methodName(info.FullMethod))
		}
		return handler(ctx, req)
	}
}

// ReadOnlyStreamInterceptor rejects every stream on the read-only listener.
// StreamEvents consumes deliveries, so it is a write.
func ReadOnlyStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return status.Errorf(codes.PermissionDenied,
			"%s not allowed on the local socket - connect over TCP", methodName(info.FullMethod))
	}
}

// isReadOnlyMethod checks if a gRPC method is read-only
func isReadOnlyMethod(method string) bool {
	name := methodName(method)
	for _, prefix := range []string{"List", "Get", "Stats"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// methodName extracts the method from a full path ("/ftb.Backplane/Stats" -> "Stats")
func methodName(fullMethod string) string {
	if i := strings.LastIndex(fullMethod, "/"); i >= 0 {
		return fullMethod[i+1:]
	}
	return fullMethod
}

// RecoveryInterceptor turns a handler panic into codes.Internal so a
// malformed request never takes the backplane down.
func RecoveryInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("api")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("method", info.FullMethod).
					Str("panic", fmt.Sprint(r)).
					Msg("Recovered from handler panic")
				err = status.Errorf(codes.Internal, "internal error in %s", methodName(info.FullMethod))
			}
		}()
		return handler(ctx, req)
	}
}

// MetricsInterceptor records request count, latency and failures per method
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("api")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		timer := metrics.NewTimer()
		method := methodName(info.FullMethod)

		resp, err := handler(ctx, req)

		code := status.Code(err)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		metrics.APIRequestsTotal.WithLabelValues(method, code.String()).Inc()

		if err != nil {
			logger.Debug().
				Str("method", method).
				Str("code", code.String()).
				Err(err).
				Dur("duration", timer.Duration()).
				Msg("Request failed")
		}
		return resp, err
	}
}

// StreamMetricsInterceptor tracks open streams and their outcome
func StreamMetricsInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		method := methodName(info.FullMethod)
		metrics.APIStreamsActive.Inc()
		defer metrics.APIStreamsActive.Dec()

		err := handler(srv, ss)
		metrics.APIRequestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
		return err
	}
}
