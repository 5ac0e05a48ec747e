package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/authcore/internal/errs"
	"github.com/and161185/authcore/internal/model"
	"github.com/and161185/authcore/internal/repository"
)

// UserRepo implements repository.UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

var _ repository.UserRepository = (*UserRepo)(nil)

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const selectUser = `
SELECT id, role_id, email, username, password_hash, full_name,
       is_active, last_login, created_at, updated_at
FROM users`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, role_id, email, username, password_hash, full_name, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Pool.Exec(ctx, q, u.ID, u.RoleID, u.Email, u.Username, u.PasswordHash, u.FullName, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if constraint, ok := uniqueViolation(err); ok {
		switch {
		case strings.Contains(constraint, "email"):
			return repository.ErrEmailTaken
		case strings.Contains(constraint, "username"):
			return repository.ErrUsernameTaken
		default:
			return errs.ErrAlreadyExists
		}
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByID selects a user by ID.
func (r *UserRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.one(ctx, selectUser+` WHERE id = $1`, id)
}

// FindByEmailOrUsername selects a user whose email or username equals identifier.
// An email match wins over a username match.
func (r *UserRepo) FindByEmailOrUsername(ctx context.Context, identifier string) (*model.User, error) {
	return r.one(ctx, selectUser+` WHERE email = lower($1) OR username = $1 ORDER BY (email = lower($1)) DESC LIMIT 1`, identifier)
}

func (r *UserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = lower($1))`, email)
}

func (r *UserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username)
}

// UpdateLastLogin sets last_login; a missing user yields errs.ErrNotFound.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *UserRepo) one(ctx context.Context, q string, arg any) (*model.User, error) {
	var u model.User
	err := r.db.Pool.QueryRow(ctx, q, arg).Scan(
		&u.ID, &u.RoleID, &u.Email, &u.Username, &u.PasswordHash, &u.FullName,
		&u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) exists(ctx context.Context, q string, arg any) (bool, error) {
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return ok, nil
}
