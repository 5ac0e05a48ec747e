// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authcore/internal/errs"
	"github.com/and161185/authcore/internal/model"
)

// Uniqueness conflicts reported by Create. Both match errs.ErrAlreadyExists.
var (
	ErrEmailTaken    = fmt.Errorf("email %w", errs.ErrAlreadyExists)
	ErrUsernameTaken = fmt.Errorf("username %w", errs.ErrAlreadyExists)
)

// UserRepository is the credential store for accounts.
// Lookups return errs.ErrNotFound when no row matches.
type UserRepository interface {
	// Create inserts a new user; uniqueness races surface as ErrEmailTaken or ErrUsernameTaken.
	Create(ctx context.Context, u *model.User) error
	// FindByID loads a user. Role fields are left empty.
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// FindByEmailOrUsername matches identifier against either column in one lookup,
	// preferring the account whose email matches.
	FindByEmailOrUsername(ctx context.Context, identifier string) (*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	// UpdateLastLogin stamps the last successful login.
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}
