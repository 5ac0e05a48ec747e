package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, maxFails int) (*PG, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewPG(mock, 15*time.Minute, maxFails, 10*time.Minute)
	l.now = func() time.Time { return now }
	return l, mock, now
}

func TestAllow(t *testing.T) {
	l, mock, now := newLimiter(t, 5)
	ctx := context.Background()
	ip := HashIP("10.0.0.1")
	cols := []string{"blocked_until", "updated_at"}

	mock.ExpectQuery(`SELECT blocked_until, updated_at FROM login_attempts`).
		WithArgs("alice", ip).WillReturnError(pgx.ErrNoRows)
	ok, retry, err := l.Allow(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, retry)

	mock.ExpectQuery(`FROM login_attempts`).WithArgs("alice", ip).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(now.Add(4*time.Minute), now))
	ok, retry, err = l.Allow(ctx, "alice", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 4*time.Minute, retry)

	mock.ExpectQuery(`FROM login_attempts`).WithArgs("alice", ip).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(now.Add(-time.Second), now))
	ok, _, err = l.Allow(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(`FROM login_attempts`).WithArgs("alice", ip).WillReturnError(errors.New("db down"))
	ok, _, err = l.Allow(ctx, "alice", ip)
	require.Error(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailure_BlocksAtThreshold(t *testing.T) {
	l, mock, now := newLimiter(t, 3)
	ctx := context.Background()
	ip := HashIP("10.0.0.1")

	mock.ExpectQuery(`RETURNING fail_count`).WithArgs("alice", ip, 15*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(2))
	blocked, d, err := l.Failure(ctx, "alice", ip)
	require.NoError(t, err)
	require.False(t, blocked)
	require.Zero(t, d)

	mock.ExpectQuery(`RETURNING fail_count`).WithArgs("alice", ip, 15*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(3))
	mock.ExpectExec(`UPDATE login_attempts SET blocked_until=\$3`).
		WithArgs("alice", ip, now.Add(10*time.Minute)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	blocked, d, err = l.Failure(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, d)

	mock.ExpectQuery(`RETURNING fail_count`).WithArgs("alice", ip, 15*time.Minute).
		WillReturnError(errors.New("boom"))
	_, _, err = l.Failure(ctx, "alice", ip)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailure_CountsPerIdentifierAsSent(t *testing.T) {
	l, mock, now := newLimiter(t, 0)
	ctx := context.Background()
	ip := HashIP("10.0.0.1:51234")
	require.Equal(t, HashIP("10.0.0.1"), ip)

	mock.ExpectQuery(`RETURNING fail_count`).WithArgs("alice", ip, 15*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(4))
	blocked, _, err := l.Failure(ctx, "alice", ip)
	require.NoError(t, err)
	require.False(t, blocked, "default threshold is 5")

	mock.ExpectQuery(`RETURNING fail_count`).WithArgs("alice@x.com", ip, 15*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(1))
	blocked, _, err = l.Failure(ctx, "alice@x.com", ip)
	require.NoError(t, err)
	require.False(t, blocked)

	mock.ExpectQuery(`RETURNING fail_count`).WithArgs("alice", ip, 15*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(5))
	mock.ExpectExec(`UPDATE login_attempts SET blocked_until=\$3`).
		WithArgs("alice", ip, now.Add(10*time.Minute)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	blocked, d, err := l.Failure(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, d)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSuccess_Resets(t *testing.T) {
	l, mock, _ := newLimiter(t, 5)
	ip := HashIP("10.0.0.1")

	mock.ExpectExec(`INSERT INTO login_attempts .* DO UPDATE SET fail_count=0`).
		WithArgs("alice", ip).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, l.Success(context.Background(), "alice", ip))

	mock.ExpectExec(`INSERT INTO login_attempts`).WithArgs("alice", ip).WillReturnError(errors.New("exec fail"))
	require.Error(t, l.Success(context.Background(), "alice", ip))
}

func TestHashIP(t *testing.T) {
	a := HashIP("1.2.3.4:123")
	b := HashIP("1.2.3.4:456")
	c := HashIP("1.2.3.4")
	d := HashIP("5.6.7.8")
	require.Len(t, a, 32)
	require.Equal(t, a, b, "port must not matter")
	require.Equal(t, a, c)
	require.NotEqual(t, a, d)
}
