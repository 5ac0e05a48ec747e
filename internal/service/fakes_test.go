package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	pkgcrypto "github.com/and161185/authcore/internal/crypto"
	"github.com/and161185/authcore/internal/errs"
	"github.com/and161185/authcore/internal/limiter"
	"github.com/and161185/authcore/internal/model"
	"github.com/and161185/authcore/internal/repository"
	"github.com/and161185/authcore/internal/session"
	"github.com/and161185/authcore/internal/token"
)

type fakeUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.User

	createErr error
	findErr   error
	existsErr error
	lastErr   error

	lastLogin chan uuid.UUID
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, e := range f.byID {
		if e.Email == u.Email {
			return repository.ErrEmailTaken
		}
		if e.Username == u.Username {
			return repository.ErrUsernameTaken
		}
	}
	c := *u
	f.byID[u.ID] = &c
	return nil
}

// clone mirrors the store: role fields are never persisted on the user row.
func clone(u *model.User) *model.User {
	c := *u
	c.RoleName, c.RoleCode, c.Permissions = "", "", nil
	return &c
}

func (f *fakeUsers) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(u), nil
}

func (f *fakeUsers) FindByEmailOrUsername(_ context.Context, identifier string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, u := range f.byID {
		if u.Email == strings.ToLower(identifier) {
			return clone(u), nil
		}
	}
	for _, u := range f.byID {
		if u.Username == identifier {
			return clone(u), nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) ExistsByEmail(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	for _, u := range f.byID {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUsers) ExistsByUsername(_ context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	for _, u := range f.byID {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUsers) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	err := f.lastErr
	if err == nil {
		if u, ok := f.byID[id]; ok {
			u.LastLoginAt = &at
		}
	}
	f.mu.Unlock()
	if f.lastLogin != nil {
		f.lastLogin <- id
	}
	return err
}

func (f *fakeUsers) setActive(id uuid.UUID, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].IsActive = active
}

type fakeRoles struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*model.Role
	grants    map[uuid.UUID][]string
	defaultID uuid.UUID

	defaultErr error
	permsErr   error
}

var _ repository.RoleRepository = (*fakeRoles)(nil)

func (f *fakeRoles) FindByID(_ context.Context, id uuid.UUID) (*model.Role, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (f *fakeRoles) GetDefault(ctx context.Context) (*model.Role, error) {
	if f.defaultErr != nil {
		return nil, f.defaultErr
	}
	return f.FindByID(ctx, f.defaultID)
}

func (f *fakeRoles) PermissionsByRoleID(_ context.Context, id uuid.UUID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.permsErr != nil {
		return nil, f.permsErr
	}
	return append([]string(nil), f.grants[id]...), nil
}

func (f *fakeRoles) setGrants(id uuid.UUID, grants ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[id] = grants
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool

	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	return l.allowOK, time.Minute, l.allowErr
}

func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return nil
}

func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, time.Minute, nil
}

var (
	studentRoleID = uuid.Must(uuid.FromString("0190a000-0000-7000-8000-000000000103"))
	adminRoleID   = uuid.Must(uuid.FromString("0190a000-0000-7000-8000-000000000101"))
)

type harness struct {
	svc      *AuthServiceImpl
	users    *fakeUsers
	roles    *fakeRoles
	sessions *session.RedisRegistry
	mr       *miniredis.Miniredis
	codec    *token.Codec
	hasher   pkgcrypto.Hasher
}

func newHarness(t *testing.T, lim limiter.Limiter) *harness {
	t.Helper()

	roles := &fakeRoles{
		byID: map[uuid.UUID]*model.Role{
			studentRoleID: {ID: studentRoleID, Name: "Student", Code: "STUDENT", IsDefault: true},
			adminRoleID:   {ID: adminRoleID, Name: "Administrator", Code: "ADMIN"},
		},
		grants: map[uuid.UUID][]string{
			studentRoleID: {"topics:READ", "submissions:CREATE", "submissions:READ"},
			adminRoleID:   {"*:*"},
		},
		defaultID: studentRoleID,
	}
	users := &fakeUsers{byID: map[uuid.UUID]*model.User{}, lastLogin: make(chan uuid.UUID, 16)}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	log := zaptest.NewLogger(t)
	reg := session.NewRedisRegistry(rdb, log, 0)

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  []byte("test-access-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	hasher, err := pkgcrypto.New(pkgcrypto.AlgBcrypt, bcrypt.MinCost)
	require.NoError(t, err)

	svc := NewAuthService(Deps{
		Users:    users,
		Roles:    roles,
		Hasher:   hasher,
		Tokens:   codec,
		Sessions: reg,
		Limiter:  lim,
		Logger:   log,
	})
	return &harness{svc: svc, users: users, roles: roles, sessions: reg, mr: mr, codec: codec, hasher: hasher}
}

// seedUser stores a user directly, bypassing Register.
func (h *harness) seedUser(t *testing.T, username, password string, roleID uuid.UUID, active bool) *model.User {
	t.Helper()
	hash, err := h.hasher.Hash(password)
	require.NoError(t, err)
	u := &model.User{
		ID:           uuid.Must(uuid.NewV7()),
		RoleID:       roleID,
		Email:        username + "@x.com",
		Username:     username,
		PasswordHash: hash,
		IsActive:     active,
	}
	require.NoError(t, h.users.Create(context.Background(), u))
	return u
}

func (h *harness) principal(t *testing.T, access string) *model.Principal {
	t.Helper()
	p, err := h.svc.Authenticate(context.Background(), access)
	require.NoError(t, err)
	return p
}
