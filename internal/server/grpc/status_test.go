package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/authcore/internal/errs"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()

	cases := map[errs.Kind]codes.Code{
		errs.KindUserNotFound:        codes.NotFound,
		errs.KindSessionNotFound:     codes.NotFound,
		errs.KindUserAlreadyExists:   codes.AlreadyExists,
		errs.KindUserInactive:        codes.Unauthenticated,
		errs.KindInvalidCredentials:  codes.Unauthenticated,
		errs.KindIncorrectPassword:   codes.Unauthenticated,
		errs.KindInvalidToken:        codes.Unauthenticated,
		errs.KindTokenExpired:        codes.Unauthenticated,
		errs.KindTokenMalformed:      codes.Unauthenticated,
		errs.KindTokenRevoked:        codes.Unauthenticated,
		errs.KindInvalidArgument:     codes.InvalidArgument,
		errs.KindPermissionDenied:    codes.PermissionDenied,
		errs.KindRateLimited:         codes.ResourceExhausted,
		errs.KindRoleNotFound:        codes.Internal,
		errs.KindDefaultRoleNotFound: codes.Internal,
		errs.KindInternal:            codes.Internal,
	}
	for kind, want := range cases {
		got := CodeOf(fmt.Errorf("op: %w", errs.New(kind, "x")))
		require.Equal(t, want, got, kind.Code())
	}

	require.Equal(t, codes.OK, CodeOf(nil))
	require.Equal(t, codes.Internal, CodeOf(errors.New("boom")))
	require.Equal(t, codes.Canceled, CodeOf(errs.Wrap(errs.KindInternal, context.Canceled, "request cancelled")))
	require.Equal(t, codes.DeadlineExceeded, CodeOf(fmt.Errorf("x: %w", context.DeadlineExceeded)))
}

func TestToStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	require.NoError(t, toStatus(ctx, nil))

	orig := status.Error(codes.Unavailable, "down")
	require.Equal(t, orig, toStatus(ctx, orig))

	st := status.Convert(toStatus(ctx, errs.New(errs.KindIncorrectPassword, "incorrect password")))
	require.Equal(t, codes.Unauthenticated, st.Code())
	require.Equal(t, "incorrect password", st.Message())

	st = status.Convert(toStatus(ctx, errors.New("pq: password authentication failed for user admin")))
	require.Equal(t, codes.Internal, st.Code())
	require.Equal(t, "internal error", st.Message())
}
