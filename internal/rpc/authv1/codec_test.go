package authv1

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

func TestCodecRegistered(t *testing.T) {
	t.Parallel()

	c := encoding.GetCodec(CodecName) //nolint:staticcheck // v1 registry still backs RegisterCodec
	require.NotNil(t, c)
	require.Equal(t, "json", c.Name())
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()
	c := jsonCodec{}

	exp := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	in := &ValidateTokenResponse{
		Valid:       true,
		UserID:      "u-1",
		Permissions: []string{"sessions:READ"},
		ExpiresAt:   exp,
	}
	b, err := c.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(b), `"user_id":"u-1"`)
	require.NotContains(t, string(b), "email", "omitempty fields stay off the wire")

	var out ValidateTokenResponse
	require.NoError(t, c.Unmarshal(b, &out))
	require.Equal(t, *in, out)
}

func TestCodecEmptyFrame(t *testing.T) {
	t.Parallel()

	var req LogoutAllRequest
	require.NoError(t, jsonCodec{}.Unmarshal(nil, &req))

	err := jsonCodec{}.Unmarshal([]byte("{"), &LoginRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "*authv1.LoginRequest")
}

func TestServiceDescMethods(t *testing.T) {
	t.Parallel()

	require.Equal(t, ServiceName, AuthService_ServiceDesc.ServiceName)
	require.Len(t, AuthService_ServiceDesc.Methods, 10)
	for _, m := range AuthService_ServiceDesc.Methods {
		full := "/" + ServiceName + "/" + m.MethodName
		require.True(t, strings.HasPrefix(full, "/auth.v1.AuthService/"))
	}
	require.Equal(t, "/auth.v1.AuthService/RevokeUserSessions", MethodRevokeUserSessions)
}

func TestUnimplementedServer(t *testing.T) {
	t.Parallel()

	_, err := UnimplementedAuthServiceServer{}.GetMe(context.Background(), &GetMeRequest{})
	require.Equal(t, codes.Unimplemented, status.Code(err))
}
