package datachangelog

import (
	"context"
	"errors"

	"github.com/jecitDev/jec-go-versioning/pkg/logger"
	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UserExtractor defines how to extract the acting user from an incoming request
type UserExtractor interface {
	ExtractUser(ctx context.Context) (userID string, err error)
}

// DefaultUserExtractor reads the "user-id" metadata header
type DefaultUserExtractor struct{}

func (due *DefaultUserExtractor) ExtractUser(ctx context.Context) (userID string, err error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", nil
	}

	if values := md.Get("user-id"); len(values) > 0 {
		userID = values[0]
	}

	return
}

// ActorInterceptor binds the request user as the versioning actor of everything the handler commits.
// Requests without a user keep the system actor.
func ActorInterceptor(extractor UserExtractor, log zerolog.Logger) grpc.UnaryServerInterceptor {
	if extractor == nil {
		extractor = &DefaultUserExtractor{}
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := bindActor(ctx, extractor, log, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamActorInterceptor is the streaming variant of ActorInterceptor
func StreamActorInterceptor(extractor UserExtractor, log zerolog.Logger) grpc.StreamServerInterceptor {
	if extractor == nil {
		extractor = &DefaultUserExtractor{}
	}

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := bindActor(ss.Context(), extractor, log, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &actorStream{ServerStream: ss, ctx: ctx})
	}
}

func bindActor(ctx context.Context, extractor UserExtractor, log zerolog.Logger, method string) (context.Context, error) {
	userID, err := extractor.ExtractUser(ctx)
	if err != nil {
		log.Warn().Err(err).Str("method", method).Msg("request user rejected")
		return ctx, status.Error(codes.Unauthenticated, err.Error())
	}
	if userID == "" {
		return ctx, nil
	}
	ctx = versioning.WithActor(ctx, userID)
	l := logger.WithActor(log, userID)
	return l.WithContext(ctx), nil
}

type actorStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *actorStream) Context() context.Context { return s.ctx }

// ErrorInterceptor maps versioning errors returned by handlers to gRPC statuses
func ErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		return resp, StatusFromError(err)
	}
}

// StatusFromError converts err to a gRPC status error. Errors that already carry a status are kept.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case versioning.IsWriteConflict(err):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, versioning.ErrNotFound), errors.Is(err, versioning.ErrUnknownEntityType):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, versioning.ErrEntityDeleted), errors.Is(err, versioning.ErrTxDone):
		return status.Error(codes.FailedPrecondition, err.Error())
	case versioning.IsValidation(err), errors.Is(err, ErrMaskedField), errors.Is(err, versioning.ErrInvalidSchema):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return err
	}
}
