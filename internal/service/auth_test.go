package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/authcore/internal/errs"
	"github.com/and161185/authcore/internal/model"
	"github.com/and161185/authcore/internal/repository"
	"github.com/and161185/authcore/internal/token"
)

func TestRegister_Success(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.svc.Register(ctx, RegisterInput{
		Username: "alice",
		Email:    " Alice@X.com ",
		Password: "Secret123!",
		FullName: "Alice A",
		Device:   model.DeviceInfo{IP: "10.0.0.1", UserAgent: "test"},
	})
	require.NoError(t, err)
	require.Empty(t, res.User.PasswordHash)
	require.Equal(t, "alice@x.com", res.User.Email)
	require.Equal(t, "STUDENT", res.User.RoleCode)
	require.NotEmpty(t, res.Tokens.AccessToken)
	require.NotEmpty(t, res.Tokens.RefreshToken)
	require.Equal(t, byte(7), res.User.ID.Version())

	claims, err := h.codec.ParseAccess(res.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, res.User.ID.String(), claims.Subject)
	require.Equal(t, "STUDENT", claims.Role)
	require.Equal(t, []string{"submissions:CREATE", "submissions:READ", "topics:READ"}, claims.Permissions)

	sessions, err := h.sessions.GetUserSessions(ctx, res.User.ID.String())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "10.0.0.1", sessions[0].IP)

	stored := h.users.byID[res.User.ID]
	require.NoError(t, h.hasher.Verify("Secret123!", stored.PasswordHash))
	require.NotEqual(t, "Secret123!", stored.PasswordHash)
}

func TestRegister_Conflicts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "p"})
	require.NoError(t, err)

	_, err = h.svc.Register(ctx, RegisterInput{Username: "alice2", Email: "alice@x.com", Password: "p"})
	require.ErrorIs(t, err, errs.UserAlreadyExists)
	var e *errs.Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, "email", e.Field)

	_, err = h.svc.Register(ctx, RegisterInput{Username: "alice", Email: "other@x.com", Password: "p"})
	require.ErrorIs(t, err, errs.UserAlreadyExists)
	require.True(t, errors.As(err, &e))
	require.Equal(t, "username", e.Field)
}

func TestRegister_RaceOnInsertReportsConflict(t *testing.T) {
	h := newHarness(t, nil)
	h.users.createErr = repository.ErrUsernameTaken

	_, err := h.svc.Register(context.Background(), RegisterInput{Username: "bob", Email: "bob@x.com", Password: "p"})
	var e *errs.Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, errs.KindUserAlreadyExists, e.Kind)
	require.Equal(t, "username", e.Field)
}

func TestRegister_Failures(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, nil)
	_, err := h.svc.Register(ctx, RegisterInput{Username: "", Email: "x@x.com", Password: "p"})
	require.ErrorIs(t, err, errs.InvalidArgument)
	_, err = h.svc.Register(ctx, RegisterInput{Username: "x", Email: "x@x.com", Password: ""})
	require.ErrorIs(t, err, errs.InvalidArgument)

	h.roles.defaultErr = errs.ErrNotFound
	_, err = h.svc.Register(ctx, RegisterInput{Username: "x", Email: "x@x.com", Password: "p"})
	require.ErrorIs(t, err, errs.DefaultRoleNotFound)
	h.roles.defaultErr = nil

	h.users.existsErr = errors.New("pq: connection refused on 10.1.2.3")
	_, err = h.svc.Register(ctx, RegisterInput{Username: "x", Email: "x@x.com", Password: "p"})
	require.ErrorIs(t, err, errs.Internal)
	require.NotContains(t, err.Error(), "10.1.2.3", "infrastructure details must not leak")
	h.users.existsErr = nil

	h.users.createErr = errors.New("disk full")
	_, err = h.svc.Register(ctx, RegisterInput{Username: "x", Email: "x@x.com", Password: "p"})
	require.ErrorIs(t, err, errs.Internal)
	require.Equal(t, "internal error", err.Error())
}

func TestRegister_RejectsClientInput(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, RegisterInput{Username: "e", Email: "e@x.com", Password: strings.Repeat("é", 40)})
	require.ErrorIs(t, err, errs.InvalidArgument)
	require.Equal(t, "password must be at most 72 bytes", err.Error())

	_, err = h.svc.Register(ctx, RegisterInput{Username: "bob@x.com", Email: "mallory@x.com", Password: "Secret123!"})
	require.ErrorIs(t, err, errs.InvalidArgument)
	require.Empty(t, h.users.byID)
}

func TestLogin_EmailWinsOverUsername(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	bob := h.seedUser(t, "bob", "bob-pass", studentRoleID, true)

	// A legacy account whose username equals bob's email.
	hash, err := h.hasher.Hash("other-pass")
	require.NoError(t, err)
	require.NoError(t, h.users.Create(ctx, &model.User{
		ID:           uuid.Must(uuid.NewV7()),
		RoleID:       studentRoleID,
		Email:        "legacy@x.com",
		Username:     bob.Email,
		PasswordHash: hash,
		IsActive:     true,
	}))

	res, err := h.svc.Login(ctx, bob.Email, "bob-pass", model.DeviceInfo{})
	require.NoError(t, err)
	require.Equal(t, bob.ID, res.User.ID)
}

func TestLogin_MissingRole(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seedUser(t, "orphan", "orphan-pass", uuid.Must(uuid.NewV4()), true)

	_, err := h.svc.Login(ctx, "orphan", "orphan-pass", model.DeviceInfo{})
	require.ErrorIs(t, err, errs.RoleNotFound)
	require.Equal(t, "user role not found", err.Error())
}

func TestLogin_Outcomes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.seedUser(t, "carol", "right-pass", studentRoleID, true)
	h.seedUser(t, "dave", "right-pass", studentRoleID, false)

	_, err := h.svc.Login(ctx, "nobody", "x", model.DeviceInfo{})
	require.ErrorIs(t, err, errs.UserNotFound)

	_, err = h.svc.Login(ctx, "carol", "wrong", model.DeviceInfo{})
	require.ErrorIs(t, err, errs.IncorrectPassword)
	n, err := h.sessions.CountUserSessions(ctx, u.ID.String())
	require.NoError(t, err)
	require.Zero(t, n, "failed login must not open a session")

	for _, pw := range []string{"right-pass", "wrong"} {
		_, err = h.svc.Login(ctx, "dave", pw, model.DeviceInfo{})
		require.ErrorIs(t, err, errs.UserInactive)
	}

	_, err = h.svc.Login(ctx, "", "x", model.DeviceInfo{})
	require.ErrorIs(t, err, errs.InvalidArgument)

	res, err := h.svc.Login(ctx, "CAROL@x.com", "right-pass", model.DeviceInfo{IP: "1.2.3.4", UserAgent: "ua"})
	require.NoError(t, err)
	require.Empty(t, res.User.PasswordHash)
	claims, err := h.codec.ParseAccess(res.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID.String(), claims.Subject)

	select {
	case id := <-h.users.lastLogin:
		require.Equal(t, u.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("last login was not updated")
	}

	sessions, err := h.sessions.GetUserSessions(ctx, u.ID.String())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "ua", sessions[0].UserAgent)
}

func TestLogin_MalformedHashIsInvalidCredentials(t *testing.T) {
	h := newHarness(t, nil)
	u := h.seedUser(t, "erin", "pw", studentRoleID, true)
	h.users.byID[u.ID].PasswordHash = "not-a-hash"

	_, err := h.svc.Login(context.Background(), "erin", "pw", model.DeviceInfo{})
	require.ErrorIs(t, err, errs.InvalidCredentials)
}

func TestLogin_LastLoginFailureDoesNotFailLogin(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.log = zap.NewNop()
	h.seedUser(t, "frank", "pw", studentRoleID, true)
	h.users.lastErr = errors.New("timeout")

	_, err := h.svc.Login(context.Background(), "frank", "pw", model.DeviceInfo{})
	require.NoError(t, err)
	<-h.users.lastLogin
}

func TestLogin_Limiter(t *testing.T) {
	lim := &fakeLimiter{allowOK: true}
	h := newHarness(t, lim)
	ctx := context.Background()
	h.seedUser(t, "gina", "pw", studentRoleID, true)

	_, err := h.svc.Login(ctx, "gina", "bad", model.DeviceInfo{IP: "1.1.1.1"})
	require.ErrorIs(t, err, errs.IncorrectPassword)
	require.Equal(t, 1, lim.failureCalls)

	lim.failBlocked = true
	_, err = h.svc.Login(ctx, "gina", "bad", model.DeviceInfo{IP: "1.1.1.1"})
	require.ErrorIs(t, err, errs.RateLimited)
	lim.failBlocked = false

	lim.allowOK = false
	_, err = h.svc.Login(ctx, "gina", "pw", model.DeviceInfo{IP: "1.1.1.1"})
	require.ErrorIs(t, err, errs.RateLimited)
	lim.allowOK = true

	lim.allowErr = errors.New("db down")
	_, err = h.svc.Login(ctx, "gina", "pw", model.DeviceInfo{IP: "1.1.1.1"})
	require.ErrorIs(t, err, errs.Internal)
	lim.allowErr = nil

	_, err = h.svc.Login(ctx, "gina", "pw", model.DeviceInfo{IP: "1.1.1.1"})
	require.NoError(t, err)
	require.Equal(t, 1, lim.successCalls)
}

func TestRefresh(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.seedUser(t, "hank", "pw", studentRoleID, true)

	res, err := h.svc.Login(ctx, "hank", "pw", model.DeviceInfo{})
	require.NoError(t, err)

	// Role grants changed after login; refresh must reflect them.
	h.roles.setGrants(studentRoleID, "topics:READ", "classes:READ")

	out, err := h.svc.RefreshAccessToken(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, res.Tokens.AccessToken, out.AccessToken)
	require.Equal(t, res.Tokens.RefreshToken, out.RefreshToken)
	claims, err := h.codec.ParseAccess(out.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID.String(), claims.Subject)
	require.Equal(t, []string{"classes:READ", "topics:READ"}, claims.Permissions)

	_, err = h.svc.RefreshAccessToken(ctx, res.Tokens.AccessToken)
	require.ErrorIs(t, err, errs.InvalidToken, "access token must not refresh")

	_, err = h.svc.RefreshAccessToken(ctx, "garbage")
	require.ErrorIs(t, err, errs.TokenMalformed)

	h.users.setActive(u.ID, false)
	_, err = h.svc.RefreshAccessToken(ctx, res.Tokens.RefreshToken)
	require.ErrorIs(t, err, errs.UserInactive)
	h.users.setActive(u.ID, true)

	claimsR, err := h.codec.ParseRefresh(res.Tokens.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, h.sessions.RevokeRefreshToken(ctx, u.ID.String(), claimsR.ID))
	_, err = h.svc.RefreshAccessToken(ctx, res.Tokens.RefreshToken)
	require.ErrorIs(t, err, errs.TokenRevoked)
}

func TestRefresh_UserGone(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ghost := uuid.Must(uuid.NewV7()).String()

	iss, err := h.codec.IssueRefresh(ghost)
	require.NoError(t, err)
	require.NoError(t, h.sessions.StoreRefreshToken(ctx, ghost, iss.ID, time.Hour, model.DeviceInfo{}))

	_, err = h.svc.RefreshAccessToken(ctx, iss.Token)
	require.ErrorIs(t, err, errs.UserNotFound)

	bad, err := h.codec.IssueRefresh("not-a-uuid")
	require.NoError(t, err)
	_, err = h.svc.RefreshAccessToken(ctx, bad.Token)
	require.ErrorIs(t, err, errs.InvalidToken)
}

func TestValidate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.seedUser(t, "ivy", "pw", studentRoleID, true)

	res, err := h.svc.Login(ctx, "ivy", "pw", model.DeviceInfo{})
	require.NoError(t, err)

	v, err := h.svc.ValidateAccessToken(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.Equal(t, u.ID.String(), v.UserID)
	require.Equal(t, "ivy@x.com", v.Email)
	require.Equal(t, []string{"submissions:CREATE", "submissions:READ", "topics:READ"}, v.Permissions)

	// Live permissions, not the embedded ones.
	h.roles.setGrants(studentRoleID, "topics:READ")
	v, err = h.svc.ValidateAccessToken(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{"topics:READ"}, v.Permissions)

	// Degraded when the store is unreachable.
	h.users.findErr = errors.New("db down")
	v, err = h.svc.ValidateAccessToken(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.Empty(t, v.Email)
	require.Empty(t, v.Permissions)
	h.users.findErr = nil

	h.users.setActive(u.ID, false)
	v, err = h.svc.ValidateAccessToken(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Equal(t, "USER_INACTIVE", v.Reason)
}

func TestValidate_BadTokensAreSoftFailures(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.seedUser(t, "jack", "pw", studentRoleID, true)

	foreign, err := token.NewCodec(token.Config{
		AccessSecret:  []byte("another-access"),
		RefreshSecret: []byte("another-refresh"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	require.NoError(t, err)
	forged, err := foreign.IssueAccess(token.Subject{UserID: u.ID.String()})
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	stale, err := token.NewCodec(token.Config{
		AccessSecret:  []byte("test-access-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
	}, token.WithClock(func() time.Time { return past }))
	require.NoError(t, err)
	expired, err := stale.IssueAccess(token.Subject{UserID: u.ID.String()})
	require.NoError(t, err)

	refresh, err := h.codec.IssueRefresh(u.ID.String())
	require.NoError(t, err)

	cases := map[string]string{
		forged.Token:  "INVALID_TOKEN",
		expired.Token: "TOKEN_EXPIRED",
		"nonsense":    "TOKEN_MALFORMED",
		refresh.Token: "INVALID_TOKEN",
	}
	for raw, reason := range cases {
		v, err := h.svc.ValidateAccessToken(ctx, raw)
		require.NoError(t, err)
		require.False(t, v.Valid)
		require.Equal(t, reason, v.Reason)
	}
}

func TestValidate_RegistryDownFailsClosed(t *testing.T) {
	h := newHarness(t, nil)
	u := h.seedUser(t, "kim", "pw", studentRoleID, true)
	access, err := h.codec.IssueAccess(token.Subject{UserID: u.ID.String()})
	require.NoError(t, err)

	h.mr.Close()
	_, err = h.svc.ValidateAccessToken(context.Background(), access.Token)
	require.ErrorIs(t, err, errs.Internal)
}

func TestAliceScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	reg, err := h.svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "Secret123!"})
	require.NoError(t, err)
	require.Equal(t, "alice@x.com", reg.User.Email)
	require.NotEmpty(t, reg.Tokens.AccessToken)
	require.NotEmpty(t, reg.Tokens.RefreshToken)

	_, err = h.svc.Login(ctx, "alice", "wrong", model.DeviceInfo{})
	require.ErrorIs(t, err, errs.IncorrectPassword)

	login, err := h.svc.Login(ctx, "alice", "Secret123!", model.DeviceInfo{})
	require.NoError(t, err)
	require.NotEqual(t, reg.Tokens.RefreshToken, login.Tokens.RefreshToken)

	p := h.principal(t, login.Tokens.AccessToken)
	n, err := h.svc.LogoutAll(ctx, p)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	left, err := h.sessions.CountUserSessions(ctx, p.UserID)
	require.NoError(t, err)
	require.Zero(t, left)

	_, err = h.svc.RefreshAccessToken(ctx, reg.Tokens.RefreshToken)
	require.ErrorIs(t, err, errs.TokenRevoked)
	_, err = h.svc.RefreshAccessToken(ctx, login.Tokens.RefreshToken)
	require.ErrorIs(t, err, errs.TokenRevoked)

	v, err := h.svc.ValidateAccessToken(ctx, login.Tokens.AccessToken)
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Equal(t, "TOKEN_REVOKED", v.Reason)
}

func TestConcurrentLogins(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.seedUser(t, "leo", "pw", studentRoleID, true)

	const n = 8
	errc := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := h.svc.Login(ctx, "leo", "pw", model.DeviceInfo{})
			errc <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errc)
	}
	cnt, err := h.sessions.CountUserSessions(ctx, u.ID.String())
	require.NoError(t, err)
	require.Equal(t, n, cnt)
}
