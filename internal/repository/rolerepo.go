package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authcore/internal/model"
)

// RoleRepository reads roles and their permission grants.
type RoleRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Role, error)
	// GetDefault returns the role assigned to new registrants.
	GetDefault(ctx context.Context) (*model.Role, error)
	// PermissionsByRoleID returns the role's grants flattened to "resource:ACTION" strings.
	PermissionsByRoleID(ctx context.Context, roleID uuid.UUID) ([]string, error)
}
