package service

import (
	"context"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/authcore/internal/errs"
	"github.com/and161185/authcore/internal/model"
	"github.com/and161185/authcore/internal/permission"
)

// Me returns the caller's current account view.
func (s *AuthServiceImpl) Me(ctx context.Context, p *model.Principal) (*model.User, error) {
	u, err := s.liveUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	pub := u.Public()
	return &pub, nil
}

// Logout blacklists the caller's access token for its remaining lifetime and,
// when refreshToken belongs to the caller, closes that session too.
func (s *AuthServiceImpl) Logout(ctx context.Context, p *model.Principal, refreshToken string) (err error) {
	defer func() { s.observe("logout", err) }()

	if err := s.blacklist(ctx, p); err != nil {
		return err
	}
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	claims, perr := s.tokens.ParseRefresh(refreshToken)
	if perr != nil {
		s.log.Debug("logout with unusable refresh token", zap.String("user_id", p.UserID), zap.Error(perr))
		return nil
	}
	if claims.Subject != p.UserID {
		s.log.Warn("logout with foreign refresh token", zap.String("user_id", p.UserID))
		return nil
	}
	if err := s.sessions.RevokeRefreshToken(ctx, p.UserID, claims.ID); err != nil {
		return s.internal("revoke session", err)
	}
	return nil
}

// LogoutAll closes every session of the caller and revokes the current access token.
func (s *AuthServiceImpl) LogoutAll(ctx context.Context, p *model.Principal) (n int, err error) {
	defer func() { s.observe("logout_all", err) }()

	n, err = s.sessions.RevokeAllUserTokens(ctx, p.UserID)
	if err != nil {
		return 0, s.internal("revoke all sessions", err)
	}
	if err := s.blacklist(ctx, p); err != nil {
		return n, err
	}
	s.log.Info("user logged out everywhere", zap.String("user_id", p.UserID), zap.Int("sessions", n))
	return n, nil
}

func (s *AuthServiceImpl) ListSessions(ctx context.Context, p *model.Principal, targetUserID string) ([]model.Session, error) {
	target, err := s.target(ctx, p, targetUserID, permission.ActionRead)
	if err != nil {
		return nil, err
	}
	out, err := s.sessions.GetUserSessions(ctx, target)
	if err != nil {
		return nil, s.internal("list sessions", err)
	}
	return out, nil
}

// RevokeSession closes one of the caller's own sessions.
func (s *AuthServiceImpl) RevokeSession(ctx context.Context, p *model.Principal, tokenID string) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return errs.New(errs.KindInvalidArgument, "token id is required")
	}
	sess, err := s.sessions.ValidateRefreshToken(ctx, p.UserID, tokenID)
	if err != nil {
		return s.internal("load session", err)
	}
	if sess == nil {
		return errs.New(errs.KindSessionNotFound, "session not found")
	}
	if err := s.sessions.RevokeRefreshToken(ctx, p.UserID, tokenID); err != nil {
		return s.internal("revoke session", err)
	}
	return nil
}

func (s *AuthServiceImpl) RevokeUserSessions(ctx context.Context, p *model.Principal, targetUserID string) (int, error) {
	if strings.TrimSpace(targetUserID) == "" {
		return 0, errs.New(errs.KindInvalidArgument, "user id is required")
	}
	target, err := s.target(ctx, p, targetUserID, permission.ActionDelete)
	if err != nil {
		return 0, err
	}
	n, err := s.sessions.RevokeAllUserTokens(ctx, target)
	if err != nil {
		return 0, s.internal("revoke user sessions", err)
	}
	s.log.Info("sessions revoked by operator",
		zap.String("operator_id", p.UserID), zap.String("user_id", target), zap.Int("sessions", n))
	return n, nil
}

// target resolves whose sessions an operation addresses. Acting on another user
// requires sessions:<action> in the caller's live permission set.
func (s *AuthServiceImpl) target(ctx context.Context, p *model.Principal, targetUserID string, action permission.Action) (string, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" || targetUserID == p.UserID {
		return p.UserID, nil
	}
	if _, err := uuid.FromString(targetUserID); err != nil {
		return "", errs.New(errs.KindInvalidArgument, "invalid user id")
	}
	caller, err := s.liveUser(ctx, p.UserID)
	if err != nil {
		if errs.KindOf(err) == errs.KindInternal {
			return "", err
		}
		return "", errs.New(errs.KindPermissionDenied, "permission denied")
	}
	if !caller.IsActive || !caller.Permissions.Allows(permission.New(permission.ResourceSessions, action)) {
		return "", errs.New(errs.KindPermissionDenied, "permission denied")
	}
	return targetUserID, nil
}

// blacklist revokes the caller's access token until it would have expired anyway.
func (s *AuthServiceImpl) blacklist(ctx context.Context, p *model.Principal) error {
	ttl := s.tokens.Remaining(p.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.sessions.BlacklistAccessToken(ctx, p.TokenID, ttl); err != nil {
		return s.internal("blacklist access token", err)
	}
	return nil
}
