package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/authcore/internal/errs"
)

var roleColumns = []string{"id", "name", "code", "description", "is_default", "created_at"}

func TestRoleRepo_GetDefault(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRoleRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM roles WHERE is_default`).
		WillReturnRows(pgxmock.NewRows(roleColumns).AddRow(id, "Student", "STUDENT", "default role", true, time.Now()))
	role, err := r.GetDefault(ctx)
	require.NoError(t, err)
	require.Equal(t, id, role.ID)
	require.Equal(t, "STUDENT", role.Code)
	require.True(t, role.IsDefault)

	mock.ExpectQuery(`FROM roles WHERE is_default`).WillReturnError(pgx.ErrNoRows)
	_, err = r.GetDefault(ctx)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRoleRepo_FindByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRoleRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM roles WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(roleColumns).AddRow(id, "Administrator", "ADMIN", "", false, time.Now()))
	role, err := r.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "ADMIN", role.Code)

	mock.ExpectQuery(`FROM roles WHERE id = \$1`).WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err = r.FindByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRoleRepo_PermissionsByRoleID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRoleRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM permissions p JOIN resources res ON res.id = p.resource_id WHERE p.role_id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"code", "actions"}).
			AddRow("students", []string{"READ", "export"}).
			AddRow("topics", []string{"READ"}))
	perms, err := r.PermissionsByRoleID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"students:READ", "students:EXPORT", "topics:READ"}, perms)

	mock.ExpectQuery(`FROM permissions`).WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"code", "actions"}))
	perms, err = r.PermissionsByRoleID(ctx, id)
	require.NoError(t, err)
	require.Empty(t, perms)

	mock.ExpectQuery(`FROM permissions`).WithArgs(id).WillReturnError(errors.New("boom"))
	_, err = r.PermissionsByRoleID(ctx, id)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
