package grants

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func strPtr(s string) *string { return &s }

func TestStore_UpsertGrant(t *testing.T) {
	t.Run("app scoped", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		grantedAt := time.Now()
		mock.ExpectQuery("INSERT INTO membership_roles").
			WithArgs(sqlmock.AnyArg(), "m-1", "r-1", "covers", "admin", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "granted_at"}).AddRow("g-1", grantedAt))

		store := NewStore(db)
		grant := &RoleGrant{
			MembershipID: "m-1",
			RoleID:       "r-1",
			Scope:        ScopedToApp("covers"),
			GrantedBy:    strPtr("admin"),
		}
		require.NoError(t, store.UpsertGrant(context.Background(), grant))
		assert.Equal(t, "g-1", grant.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("tenant wide passes null app key", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("INSERT INTO membership_roles").
			WithArgs(sqlmock.AnyArg(), "m-1", "r-1", nil, nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "granted_at"}).AddRow("g-2", time.Now()))

		store := NewStore(db)
		grant := &RoleGrant{MembershipID: "m-1", RoleID: "r-1", Scope: TenantWide()}
		require.NoError(t, store.UpsertGrant(context.Background(), grant))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_RevokeGrant(t *testing.T) {
	t.Run("removes edge", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("DELETE FROM membership_roles").
			WithArgs("m-1", "r-1", "covers").
			WillReturnResult(sqlmock.NewResult(0, 1))

		store := NewStore(db)
		err := store.RevokeGrant(context.Background(), "m-1", "r-1", ScopedToApp("covers"))
		assert.NoError(t, err)
	})

	t.Run("absent edge", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("DELETE FROM membership_roles").
			WithArgs("m-1", "r-9", nil).
			WillReturnResult(sqlmock.NewResult(0, 0))

		store := NewStore(db)
		err := store.RevokeGrant(context.Background(), "m-1", "r-9", TenantWide())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListGrantsForApp(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "membership_id", "role_id", "app_key", "granted_by", "granted_at"}).
		AddRow("g-1", "m-1", "r-1", nil, "admin", now).
		AddRow("g-2", "m-1", "r-2", "covers", nil, now)
	mock.ExpectQuery("SELECT id, membership_id, role_id").
		WithArgs("m-1", "covers").
		WillReturnRows(rows)

	store := NewStore(db)
	grants, err := store.ListGrantsForApp(context.Background(), "m-1", "covers")
	require.NoError(t, err)
	require.Len(t, grants, 2)

	_, scoped := grants[0].Scope.AppKey()
	assert.False(t, scoped)
	require.NotNil(t, grants[0].GrantedBy)
	assert.Equal(t, "admin", *grants[0].GrantedBy)

	key, ok := grants[1].Scope.AppKey()
	require.True(t, ok)
	assert.Equal(t, "covers", key)
	assert.Nil(t, grants[1].GrantedBy)
}

func TestStore_UpsertPlatformGrant(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO platform_grants").
		WithArgs(sqlmock.AnyArg(), "u-1", "r-platform", nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "granted_at"}).AddRow("pg-1", time.Now()))

	store := NewStore(db)
	grant := &PlatformGrant{UserID: "u-1", RoleID: "r-platform"}
	require.NoError(t, store.UpsertPlatformGrant(context.Background(), grant))
	assert.Equal(t, "pg-1", grant.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RevokePlatformGrant_Absent(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("DELETE FROM platform_grants").
		WithArgs("u-1", "r-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewStore(db)
	err := store.RevokePlatformGrant(context.Background(), "u-1", "r-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListPlatformRoleIDs(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"role_id"}).AddRow("r-1").AddRow("r-2")
	mock.ExpectQuery("SELECT role_id FROM platform_grants").
		WithArgs("u-1").
		WillReturnRows(rows)

	store := NewStore(db)
	roleIDs, err := store.ListPlatformRoleIDs(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1", "r-2"}, roleIDs)
}
