package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/authcore/internal/errs"
	"github.com/and161185/authcore/internal/rpc/authv1"
)

// CodeOf maps an auth engine error to its gRPC status family.
func CodeOf(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	switch errs.KindOf(err) {
	case errs.KindUserNotFound, errs.KindSessionNotFound:
		return codes.NotFound
	case errs.KindUserAlreadyExists:
		return codes.AlreadyExists
	case errs.KindUserInactive, errs.KindInvalidCredentials, errs.KindIncorrectPassword,
		errs.KindInvalidToken, errs.KindTokenExpired, errs.KindTokenMalformed, errs.KindTokenRevoked:
		return codes.Unauthenticated
	case errs.KindInvalidArgument:
		return codes.InvalidArgument
	case errs.KindPermissionDenied:
		return codes.PermissionDenied
	case errs.KindRateLimited:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// toStatus converts err into a status error. Only the caller-safe message crosses
// the boundary; the machine code travels in the x-error-code trailer.
func toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := CodeOf(err)
	var e *errs.Error
	msg := "internal error"
	if errors.As(err, &e) {
		msg = e.Error()
		_ = grpc.SetTrailer(ctx, metadata.Pairs(authv1.ErrorCodeTrailer, e.Code()))
	}
	return status.Error(code, msg)
}
