package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/authcore/internal/errs"
	"github.com/and161185/authcore/internal/model"
	"github.com/and161185/authcore/internal/repository"
)

// RoleRepo implements repository.RoleRepository using PostgreSQL.
type RoleRepo struct{ db *DB }

var _ repository.RoleRepository = (*RoleRepo)(nil)

// NewRoleRepo constructs a role repository.
func NewRoleRepo(db *DB) *RoleRepo { return &RoleRepo{db: db} }

const selectRole = `SELECT id, name, code, description, is_default, created_at FROM roles`

func (r *RoleRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	return r.one(ctx, selectRole+` WHERE id = $1`, id)
}

// GetDefault returns the role flagged is_default.
func (r *RoleRepo) GetDefault(ctx context.Context) (*model.Role, error) {
	return r.one(ctx, selectRole+` WHERE is_default ORDER BY created_at LIMIT 1`)
}

// PermissionsByRoleID flattens every grant of the role into "resource:ACTION" strings.
func (r *RoleRepo) PermissionsByRoleID(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	const q = `
SELECT res.code, p.actions
FROM permissions p
JOIN resources res ON res.id = p.resource_id
WHERE p.role_id = $1
ORDER BY res.code`
	rows, err := r.db.Pool.Query(ctx, q, roleID)
	if err != nil {
		return nil, fmt.Errorf("select permissions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var (
			resource string
			actions  []string
		)
		if err := rows.Scan(&resource, &actions); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		for _, a := range actions {
			out = append(out, resource+":"+strings.ToUpper(a))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return out, nil
}

func (r *RoleRepo) one(ctx context.Context, q string, args ...any) (*model.Role, error) {
	var role model.Role
	err := r.db.Pool.QueryRow(ctx, q, args...).Scan(
		&role.ID, &role.Name, &role.Code, &role.Description, &role.IsDefault, &role.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select role: %w", err)
	}
	return &role, nil
}
