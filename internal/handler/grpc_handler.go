package handler

import (
	"context"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
)

// ServiceName is the name the health server reports for this service.
const ServiceName = "hr.workflows.v1.Workflows"

// NewGRPCServer builds the gRPC server with health and reflection
// registered. Every service mounted on it gets panic recovery, call logging
// and coded error mapping.
func NewGRPCServer(log *logger.Logger) (*grpc.Server, *health.Server) {
	l := log.Component("grpc")
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		recoveryInterceptor(l),
		loggingInterceptor(l),
		errorInterceptor(),
	))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}

// WatchHealth probes check every interval and flips the serving status of
// the service and the server as a whole. It returns when ctx is done.
func WatchHealth(ctx context.Context, hs *health.Server, check func(context.Context) error, interval time.Duration, log *logger.Logger) {
	set := func(st healthpb.HealthCheckResponse_ServingStatus) {
		hs.SetServingStatus("", st)
		hs.SetServingStatus(ServiceName, st)
	}

	last := healthpb.HealthCheckResponse_UNKNOWN
	probe := func() {
		st := healthpb.HealthCheckResponse_SERVING
		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		if err := check(pctx); err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			if last != st {
				log.Warn().Err(err).Msg("Health check failing")
			}
		}
		if st != last {
			set(st)
			last = st
		}
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			set(healthpb.HealthCheckResponse_NOT_SERVING)
			return
		case <-ticker.C:
			probe()
		}
	}
}

func recoveryInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("method", info.FullMethod).
					Bytes("stack", debug.Stack()).
					Msg("Panic recovered")
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func loggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", status.Code(mapErrorToGRPC(err)).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}

func errorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		return resp, mapErrorToGRPC(err)
	}
}

// mapErrorToGRPC converts a coded error to a gRPC status. Errors that
// already carry a status pass through.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var e *errors.Error
	if !errors.As(err, &e) {
		return status.Error(codes.Internal, "internal server error")
	}

	switch e.Code {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, e.Message)
	case errors.ErrCodeValidation:
		return status.Error(codes.InvalidArgument, e.Message)
	case errors.ErrCodeUnauthenticated:
		return status.Error(codes.Unauthenticated, e.Message)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, e.Message)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, e.Message)
	case errors.ErrCodeInvalidTransition, errors.ErrCodeNoApprover:
		return status.Error(codes.FailedPrecondition, e.Message)
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}
