// Package grpcserver exposes the auth engine over the authv1 gRPC contract.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/authcore/internal/model"
	"github.com/and161185/authcore/internal/rpc/authv1"
	"github.com/and161185/authcore/internal/service"
)

// TokenType is reported alongside every issued access token.
const TokenType = "Bearer"

// Server wires the auth engine into authv1 handlers.
type Server struct {
	authv1.UnimplementedAuthServiceServer
	auth service.AuthService
	log  *zap.Logger
}

var _ authv1.AuthServiceServer = (*Server)(nil)

// New constructs the RPC handlers with an injected auth engine.
func New(auth service.AuthService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, log: log.Named("rpc")}
}

// Register creates a new account and opens its first session.
func (s *Server) Register(ctx context.Context, req *authv1.RegisterRequest) (*authv1.RegisterResponse, error) {
	res, err := s.auth.Register(ctx, service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Device:   device(ctx, req.IP, req.UserAgent),
	})
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authv1.RegisterResponse{
		Success: true,
		Message: "user registered successfully",
		User:    userToPB(res.User),
		Tokens:  tokensToPB(res.Tokens),
	}, nil
}

// Login authenticates by email or username and returns a token pair.
func (s *Server) Login(ctx context.Context, req *authv1.LoginRequest) (*authv1.LoginResponse, error) {
	res, err := s.auth.Login(ctx, req.Identifier, req.Password, device(ctx, req.IP, req.UserAgent))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authv1.LoginResponse{
		Success: true,
		Message: "login successful",
		User:    userToPB(res.User),
		Tokens:  tokensToPB(res.Tokens),
	}, nil
}

// RefreshToken exchanges a live refresh token for a new access token.
func (s *Server) RefreshToken(ctx context.Context, req *authv1.RefreshTokenRequest) (*authv1.RefreshTokenResponse, error) {
	t, err := s.auth.RefreshAccessToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authv1.RefreshTokenResponse{
		Success:     true,
		Message:     "token refreshed",
		AccessToken: t.AccessToken,
		TokenType:   TokenType,
		ExpiresAt:   t.AccessExpiresAt,
	}, nil
}

// ValidateToken reports whether an access token may be honored.
// Rejected tokens are a normal response with Valid=false, not a status error.
func (s *Server) ValidateToken(ctx context.Context, req *authv1.ValidateTokenRequest) (*authv1.ValidateTokenResponse, error) {
	res, err := s.auth.ValidateAccessToken(ctx, req.AccessToken)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	if !res.Valid {
		return &authv1.ValidateTokenResponse{Valid: false, Message: res.Reason}, nil
	}
	return &authv1.ValidateTokenResponse{
		Valid:       true,
		Message:     "token is valid",
		UserID:      res.UserID,
		TokenID:     res.TokenID,
		Email:       res.Email,
		Username:    res.Username,
		RoleCode:    res.RoleCode,
		Permissions: res.Permissions,
		ExpiresAt:   res.ExpiresAt,
	}, nil
}

// Logout revokes the caller's access token and, optionally, one refresh session.
func (s *Server) Logout(ctx context.Context, req *authv1.LogoutRequest) (*authv1.LogoutResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Logout(ctx, p, req.RefreshToken); err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authv1.LogoutResponse{Success: true, Message: "logged out"}, nil
}

// LogoutAll closes every session of the caller.
func (s *Server) LogoutAll(ctx context.Context, _ *authv1.LogoutAllRequest) (*authv1.LogoutAllResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.auth.LogoutAll(ctx, p)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authv1.LogoutAllResponse{Success: true, Message: "logged out from all sessions", RevokedSessions: int32(n)}, nil
}

// GetMe returns the caller's account.
func (s *Server) GetMe(ctx context.Context, _ *authv1.GetMeRequest) (*authv1.GetMeResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.auth.Me(ctx, p)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authv1.GetMeResponse{Success: true, Message: "ok", User: userToPB(*u)}, nil
}

// ListSessions lists live sessions of the caller or, with sessions:READ, of another user.
func (s *Server) ListSessions(ctx context.Context, req *authv1.ListSessionsRequest) (*authv1.ListSessionsResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.auth.ListSessions(ctx, p, req.UserID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	out := make([]*authv1.Session, 0, len(list))
	for _, ss := range list {
		out = append(out, &authv1.Session{
			TokenID:   ss.TokenID,
			CreatedAt: ss.CreatedAt,
			ExpiresAt: ss.ExpiresAt,
			IP:        ss.IP,
			UserAgent: ss.UserAgent,
		})
	}
	return &authv1.ListSessionsResponse{Success: true, Message: "ok", Sessions: out, Count: int32(len(out))}, nil
}

// RevokeSession closes one of the caller's sessions.
func (s *Server) RevokeSession(ctx context.Context, req *authv1.RevokeSessionRequest) (*authv1.RevokeSessionResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.auth.RevokeSession(ctx, p, req.TokenID); err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authv1.RevokeSessionResponse{Success: true, Message: "session revoked"}, nil
}

// RevokeUserSessions closes every session of another user. Requires sessions:DELETE.
func (s *Server) RevokeUserSessions(ctx context.Context, req *authv1.RevokeUserSessionsRequest) (*authv1.RevokeUserSessionsResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.auth.RevokeUserSessions(ctx, p, req.UserID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authv1.RevokeUserSessionsResponse{Success: true, Message: "sessions revoked", RevokedSessions: int32(n)}, nil
}

// principal returns the caller installed by AuthUnary.
func principal(ctx context.Context) (*model.Principal, error) {
	p, ok := PrincipalFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	return p, nil
}

// device prefers the client address forwarded by the gateway over the transport peer.
func device(ctx context.Context, ip, userAgent string) model.DeviceInfo {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = remoteIP(ctx)
	}
	return model.DeviceInfo{IP: ip, UserAgent: strings.TrimSpace(userAgent)}
}

func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

func userToPB(u model.User) *authv1.User {
	out := &authv1.User{
		ID:          u.ID.String(),
		Email:       u.Email,
		Username:    u.Username,
		FullName:    u.FullName,
		RoleCode:    u.RoleCode,
		RoleName:    u.RoleName,
		IsActive:    u.IsActive,
		Permissions: u.Permissions.Strings(),
		CreatedAt:   u.CreatedAt,
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		out.LastLoginAt = &t
	}
	return out
}

func tokensToPB(t model.Tokens) *authv1.Tokens {
	return &authv1.Tokens{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		TokenType:        TokenType,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
	}
}
