// Package service contains the auth engine: registration, login, token refresh and validation,
// plus the session operations built on top of them.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/authcore/internal/crypto"
	"github.com/and161185/authcore/internal/errs"
	"github.com/and161185/authcore/internal/ids"
	"github.com/and161185/authcore/internal/limiter"
	"github.com/and161185/authcore/internal/model"
	"github.com/and161185/authcore/internal/obs"
	"github.com/and161185/authcore/internal/permission"
	"github.com/and161185/authcore/internal/repository"
	"github.com/and161185/authcore/internal/session"
	"github.com/and161185/authcore/internal/token"
)

// AuthService is the auth engine consumed by the RPC layer.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*model.AuthResult, error)
	Login(ctx context.Context, identifier, password string, dev model.DeviceInfo) (*model.AuthResult, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (model.Tokens, error)
	// ValidateAccessToken never fails on a bad token; it reports Valid=false with a reason.
	ValidateAccessToken(ctx context.Context, accessToken string) (*model.ValidateResult, error)
	// Authenticate is the strict form of validation used to guard authenticated operations.
	Authenticate(ctx context.Context, accessToken string) (*model.Principal, error)

	Me(ctx context.Context, p *model.Principal) (*model.User, error)
	Logout(ctx context.Context, p *model.Principal, refreshToken string) error
	LogoutAll(ctx context.Context, p *model.Principal) (int, error)
	// ListSessions lists sessions of targetUserID, or of the caller when it is empty.
	ListSessions(ctx context.Context, p *model.Principal, targetUserID string) ([]model.Session, error)
	RevokeSession(ctx context.Context, p *model.Principal, tokenID string) error
	// RevokeUserSessions drops every session of another user; requires sessions:DELETE.
	RevokeUserSessions(ctx context.Context, p *model.Principal, targetUserID string) (int, error)
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	FullName string
	Device   model.DeviceInfo
}

// Deps are the collaborators of the auth engine. Limiter and Metrics are optional.
type Deps struct {
	Users    repository.UserRepository
	Roles    repository.RoleRepository
	Hasher   pkgcrypto.Hasher
	Tokens   *token.Codec
	Sessions session.Registry
	Limiter  limiter.Limiter
	Metrics  *obs.AuthMetrics
	Logger   *zap.Logger
}

// AuthServiceImpl implements AuthService. It keeps no per-request state.
type AuthServiceImpl struct {
	users    repository.UserRepository
	roles    repository.RoleRepository
	hasher   pkgcrypto.Hasher
	tokens   *token.Codec
	sessions session.Registry
	lim      limiter.Limiter
	metrics  *obs.AuthMetrics
	log      *zap.Logger

	now              func() time.Time
	lastLoginTimeout time.Duration
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs the auth engine with required dependencies.
func NewAuthService(d Deps) *AuthServiceImpl {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthServiceImpl{
		users:            d.Users,
		roles:            d.Roles,
		hasher:           d.Hasher,
		tokens:           d.Tokens,
		sessions:         d.Sessions,
		lim:              d.Limiter,
		metrics:          d.Metrics,
		log:              log.Named("auth"),
		now:              time.Now,
		lastLoginTimeout: 5 * time.Second,
	}
}

// Register creates an account with the default role and logs it in.
func (s *AuthServiceImpl) Register(ctx context.Context, in RegisterInput) (res *model.AuthResult, err error) {
	defer func() { s.observe("register", err) }()

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, errs.New(errs.KindInvalidArgument, "username, email and password are required")
	}
	if strings.Contains(in.Username, "@") {
		return nil, errs.New(errs.KindInvalidArgument, "username must not contain '@'")
	}

	taken, err := s.users.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return nil, s.internal("check email", err)
	}
	if taken {
		return nil, errs.Conflict("email")
	}
	taken, err = s.users.ExistsByUsername(ctx, in.Username)
	if err != nil {
		return nil, s.internal("check username", err)
	}
	if taken {
		return nil, errs.Conflict("username")
	}

	hash, err := s.hasher.Hash(in.Password)
	if errors.Is(err, pkgcrypto.ErrPasswordTooLong) {
		return nil, errs.Wrap(errs.KindInvalidArgument, err, "password must be at most 72 bytes")
	}
	if err != nil {
		return nil, s.internal("hash password", err)
	}
	uid, err := ids.NewUserID()
	if err != nil {
		return nil, s.internal("generate user id", err)
	}
	role, err := s.roles.GetDefault(ctx)
	if errors.Is(err, errs.ErrNotFound) {
		s.log.Error("no default role configured")
		return nil, errs.Wrap(errs.KindDefaultRoleNotFound, err, "registration is unavailable")
	}
	if err != nil {
		return nil, s.internal("load default role", err)
	}

	now := s.now().UTC()
	u := &model.User{
		ID:           uid,
		RoleID:       role.ID,
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
		FullName:     in.FullName,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
		RoleName:     role.Name,
		RoleCode:     role.Code,
	}
	if err := s.users.Create(ctx, u); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			return nil, errs.Conflict("email")
		case errors.Is(err, repository.ErrUsernameTaken):
			return nil, errs.Conflict("username")
		case errors.Is(err, errs.ErrAlreadyExists):
			return nil, errs.Conflict("email or username")
		}
		return nil, s.internal("create user", err)
	}
	s.log.Info("user registered", zap.String("user_id", uid.String()), zap.String("role", role.Code))

	if u.Permissions, err = s.permissions(ctx, role.ID); err != nil {
		return nil, err
	}
	tokens, err := s.issue(ctx, u, in.Device)
	if err != nil {
		// The account exists; the caller can log in later.
		return nil, err
	}
	return &model.AuthResult{User: u.Public(), Tokens: tokens}, nil
}

// Login authenticates identifier (email or username) and opens a session.
func (s *AuthServiceImpl) Login(ctx context.Context, identifier, password string, dev model.DeviceInfo) (res *model.AuthResult, err error) {
	defer func() { s.observe("login", err) }()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, errs.New(errs.KindInvalidArgument, "identifier and password are required")
	}

	ipHash := limiter.HashIP(dev.IP)
	if s.lim != nil {
		ok, retry, err := s.lim.Allow(ctx, identifier, ipHash)
		if err != nil {
			return nil, s.internal("login limiter", err)
		}
		if !ok {
			return nil, rateLimited(retry)
		}
	}

	u, err := s.users.FindByEmailOrUsername(ctx, identifier)
	if errors.Is(err, errs.ErrNotFound) {
		if blocked := s.recordFailure(ctx, identifier, ipHash); blocked != nil {
			return nil, blocked
		}
		return nil, errs.New(errs.KindUserNotFound, "user not found")
	}
	if err != nil {
		return nil, s.internal("find user", err)
	}
	if !u.IsActive {
		return nil, errs.New(errs.KindUserInactive, "account is disabled")
	}

	if err := s.hasher.Verify(password, u.PasswordHash); err != nil {
		if !errors.Is(err, pkgcrypto.ErrMismatch) {
			s.log.Error("password verification failed", zap.String("user_id", u.ID.String()), zap.Error(err))
			return nil, errs.Wrap(errs.KindInvalidCredentials, err, "invalid credentials")
		}
		if blocked := s.recordFailure(ctx, identifier, ipHash); blocked != nil {
			return nil, blocked
		}
		return nil, errs.New(errs.KindIncorrectPassword, "incorrect password")
	}

	if s.lim != nil {
		if err := s.lim.Success(ctx, identifier, ipHash); err != nil {
			s.log.Warn("reset login limiter", zap.Error(err))
		}
	}

	if err = s.authorize(ctx, u); err != nil {
		return nil, err
	}
	tokens, err := s.issue(ctx, u, dev)
	if err != nil {
		return nil, err
	}

	s.touchLastLogin(u.ID)
	s.log.Info("user logged in", zap.String("user_id", u.ID.String()))
	return &model.AuthResult{User: u.Public(), Tokens: tokens}, nil
}

// RefreshAccessToken issues a new access token for a live refresh session.
// The refresh token itself is not rotated.
func (s *AuthServiceImpl) RefreshAccessToken(ctx context.Context, refreshToken string) (out model.Tokens, err error) {
	defer func() { s.observe("refresh", err) }()

	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return model.Tokens{}, err
	}
	uid, err := uuid.FromString(claims.Subject)
	if err != nil || claims.ID == "" {
		return model.Tokens{}, errs.New(errs.KindInvalidToken, "invalid refresh token")
	}

	sess, err := s.sessions.ValidateRefreshToken(ctx, claims.Subject, claims.ID)
	if err != nil {
		return model.Tokens{}, s.internal("check refresh session", err)
	}
	if sess == nil {
		return model.Tokens{}, errs.New(errs.KindTokenRevoked, "refresh token has been revoked")
	}

	u, err := s.users.FindByID(ctx, uid)
	if errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, errs.New(errs.KindUserNotFound, "user not found")
	}
	if err != nil {
		return model.Tokens{}, s.internal("find user", err)
	}
	if !u.IsActive {
		return model.Tokens{}, errs.New(errs.KindUserInactive, "account is disabled")
	}
	if err = s.authorize(ctx, u); err != nil {
		return model.Tokens{}, err
	}

	access, err := s.tokens.IssueAccess(subjectOf(u))
	if err != nil {
		return model.Tokens{}, s.internal("issue access token", err)
	}
	return model.Tokens{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ValidateAccessToken checks signature, expiry and the blacklist, then refreshes
// identity and permissions from the credential store.
//
// A token that fails verification yields Valid=false and a reason, not an error.
// If the live lookup fails the token stays valid with empty email and permissions.
// Only registry or other infrastructure failures are returned as errors.
func (s *AuthServiceImpl) ValidateAccessToken(ctx context.Context, accessToken string) (*model.ValidateResult, error) {
	claims, err := s.verifyAccess(ctx, accessToken)
	if err != nil {
		kind := errs.KindOf(err)
		if kind == errs.KindInternal {
			s.metrics.Validation("error")
			return nil, err
		}
		s.metrics.Validation(kind.Code())
		return &model.ValidateResult{Valid: false, Reason: kind.Code()}, nil
	}

	res := &model.ValidateResult{
		Valid:     true,
		UserID:    claims.Subject,
		TokenID:   claims.ID,
		Username:  claims.Username,
		RoleCode:  claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	u, err := s.liveUser(ctx, claims.Subject)
	if err != nil {
		s.log.Warn("live user lookup failed, returning degraded validation",
			zap.String("user_id", claims.Subject), zap.Error(err))
		s.metrics.Validation("degraded")
		return res, nil
	}
	if !u.IsActive {
		s.metrics.Validation(errs.KindUserInactive.Code())
		return &model.ValidateResult{Valid: false, Reason: errs.KindUserInactive.Code()}, nil
	}
	res.Email = u.Email
	res.Username = u.Username
	res.RoleCode = u.RoleCode
	res.Permissions = u.Permissions.Strings()
	s.metrics.Validation("valid")
	return res, nil
}

// Authenticate verifies accessToken and returns the caller described by its claims.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, accessToken string) (*model.Principal, error) {
	claims, err := s.verifyAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.FromString(claims.Subject); err != nil {
		return nil, errs.New(errs.KindInvalidToken, "invalid access token")
	}
	return &model.Principal{
		UserID:      claims.Subject,
		TokenID:     claims.ID,
		Username:    claims.Username,
		RoleCode:    claims.Role,
		Permissions: claims.Permissions,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// verifyAccess parses an access token and rejects blacklisted identities.
func (s *AuthServiceImpl) verifyAccess(ctx context.Context, raw string) (*token.AccessClaims, error) {
	claims, err := s.tokens.ParseAccess(raw)
	if err != nil {
		return nil, err
	}
	revoked, err := s.sessions.IsAccessTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, s.internal("check blacklist", err)
	}
	if revoked {
		return nil, errs.New(errs.KindTokenRevoked, "access token has been revoked")
	}
	return claims, nil
}

// issue signs an access/refresh pair for u and records the refresh session.
func (s *AuthServiceImpl) issue(ctx context.Context, u *model.User, dev model.DeviceInfo) (model.Tokens, error) {
	access, err := s.tokens.IssueAccess(subjectOf(u))
	if err != nil {
		return model.Tokens{}, s.internal("issue access token", err)
	}
	refresh, err := s.tokens.IssueRefresh(u.ID.String())
	if err != nil {
		return model.Tokens{}, s.internal("issue refresh token", err)
	}
	if err := s.sessions.StoreRefreshToken(ctx, u.ID.String(), refresh.ID, s.tokens.RefreshTTL(), dev); err != nil {
		return model.Tokens{}, s.internal("store session", err)
	}
	return model.Tokens{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// authorize attaches the user's role and its current grants.
func (s *AuthServiceImpl) authorize(ctx context.Context, u *model.User) error {
	role, err := s.roles.FindByID(ctx, u.RoleID)
	if errors.Is(err, errs.ErrNotFound) {
		s.log.Error("user references a missing role",
			zap.String("user_id", u.ID.String()), zap.String("role_id", u.RoleID.String()))
		return errs.Wrap(errs.KindRoleNotFound, err, "user role not found")
	}
	if err != nil {
		return s.internal("find role", err)
	}
	u.RoleName, u.RoleCode = role.Name, role.Code
	u.Permissions, err = s.permissions(ctx, role.ID)
	return err
}

// permissions loads and validates the grants of roleID.
func (s *AuthServiceImpl) permissions(ctx context.Context, roleID uuid.UUID) (permission.Set, error) {
	raw, err := s.roles.PermissionsByRoleID(ctx, roleID)
	if err != nil {
		return nil, s.internal("load permissions", err)
	}
	set, rejected := permission.ParseSet(raw)
	if len(rejected) > 0 {
		s.log.Warn("ignoring unknown grants", zap.String("role_id", roleID.String()), zap.Strings("grants", rejected))
	}
	return set, nil
}

// liveUser re-reads the user and its current permissions.
func (s *AuthServiceImpl) liveUser(ctx context.Context, userID string) (*model.User, error) {
	uid, err := uuid.FromString(userID)
	if err != nil {
		return nil, errs.New(errs.KindInvalidToken, "invalid subject")
	}
	u, err := s.users.FindByID(ctx, uid)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.New(errs.KindUserNotFound, "user not found")
	}
	if err != nil {
		return nil, s.internal("find user", err)
	}
	if err = s.authorize(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// touchLastLogin stamps the login time in the background.
// It is detached from the request: its outcome never reaches the caller.
func (s *AuthServiceImpl) touchLastLogin(id uuid.UUID) {
	at := s.now().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.lastLoginTimeout)
		defer cancel()
		if err := s.users.UpdateLastLogin(ctx, id, at); err != nil {
			s.log.Warn("update last login", zap.String("user_id", id.String()), zap.Error(err))
		}
	}()
}

// recordFailure counts a failed attempt and returns a RateLimited error once the pair is blocked.
func (s *AuthServiceImpl) recordFailure(ctx context.Context, identifier string, ipHash []byte) error {
	if s.lim == nil {
		return nil
	}
	blocked, retry, err := s.lim.Failure(ctx, identifier, ipHash)
	if err != nil {
		s.log.Warn("record login failure", zap.Error(err))
		return nil
	}
	if blocked {
		return rateLimited(retry)
	}
	return nil
}

// internal logs cause and returns an opaque internal error.
func (s *AuthServiceImpl) internal(op string, cause error) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindInternal, cause, "request cancelled")
	}
	s.log.Error(op, zap.Error(cause))
	return errs.Wrap(errs.KindInternal, cause, "internal error")
}

func (s *AuthServiceImpl) observe(op string, err error) {
	if err == nil {
		s.metrics.Op(op, "OK")
		return
	}
	s.metrics.Op(op, errs.KindOf(err).Code())
}

func subjectOf(u *model.User) token.Subject {
	return token.Subject{
		UserID:      u.ID.String(),
		Username:    u.Username,
		RoleCode:    u.RoleCode,
		Permissions: u.Permissions.Strings(),
	}
}

func rateLimited(retry time.Duration) error {
	e := errs.Wrap(errs.KindRateLimited, errs.ErrRateLimited, "too many failed login attempts")
	if retry > 0 {
		e.Message += ", retry in " + retry.Round(time.Second).String()
	}
	return e
}
