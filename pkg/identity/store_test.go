package identity

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func membershipRows(id, tenantID, userID string, status MembershipStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "tenant_id", "user_id", "status", "invited_by", "created_at", "updated_at"}).
		AddRow(id, tenantID, userID, string(status), nil, now, now)
}

func TestStore_GetTenant(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now()
		rows := sqlmock.NewRows([]string{"id", "slug", "display_name", "status", "settings", "branding", "created_at", "updated_at"}).
			AddRow("t-1", "acme", "Acme School", "active", []byte(`{"timezone":"Asia/Dubai"}`), []byte(`{}`), now, now)
		mock.ExpectQuery("SELECT id, slug, display_name, status").
			WithArgs("t-1").
			WillReturnRows(rows)

		store := NewStore(db)
		tenant, err := store.GetTenant(context.Background(), "t-1")
		require.NoError(t, err)
		assert.Equal(t, "acme", tenant.Slug)
		assert.Equal(t, TenantStatusActive, tenant.Status)
		assert.Equal(t, "Asia/Dubai", tenant.Settings["timezone"])
		assert.True(t, tenant.IsActive())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT id, slug, display_name, status").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		store := NewStore(db)
		_, err := store.GetTenant(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_UpsertMembership(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()

	// Two identical upserts hit the same unique (tenant_id, user_id) edge:
	// the second resolves via ON CONFLICT and returns the same row.
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("INSERT INTO memberships").
			WithArgs(sqlmock.AnyArg(), "t-1", "u-1", string(MembershipStatusActive), nil, sqlmock.AnyArg()).
			WillReturnRows(membershipRows("m-1", "t-1", "u-1", MembershipStatusActive))
	}

	first, err := store.UpsertMembership(ctx, "t-1", "u-1", MembershipStatusActive, nil)
	require.NoError(t, err)

	second, err := store.UpsertMembership(ctx, "t-1", "u-1", MembershipStatusActive, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, MembershipStatusActive, second.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertMembership_StatusChangeVisibleOnRead(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()

	mock.ExpectQuery("INSERT INTO memberships").
		WithArgs(sqlmock.AnyArg(), "t-1", "u-1", string(MembershipStatusOffboarded), nil, sqlmock.AnyArg()).
		WillReturnRows(membershipRows("m-1", "t-1", "u-1", MembershipStatusOffboarded))

	mock.ExpectQuery("SELECT id, tenant_id, user_id, status").
		WithArgs("t-1", "u-1").
		WillReturnRows(membershipRows("m-1", "t-1", "u-1", MembershipStatusOffboarded))

	_, err := store.UpsertMembership(ctx, "t-1", "u-1", MembershipStatusOffboarded, nil)
	require.NoError(t, err)

	m, err := store.GetMembership(ctx, "t-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, MembershipStatusOffboarded, m.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetMembership_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT id, tenant_id, user_id, status").
		WithArgs("t-1", "ghost").
		WillReturnError(sql.ErrNoRows)

	store := NewStore(db)
	_, err := store.GetMembership(context.Background(), "t-1", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_EnsureUser(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "external_id", "email", "full_name", "status", "created_at", "updated_at"}).
		AddRow("u-1", "oidc|abc", "jane@acme.example", nil, "active", now, now)
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "oidc|abc", "jane@acme.example", string(UserStatusActive), sqlmock.AnyArg()).
		WillReturnRows(rows)

	store := NewStore(db)
	user, err := store.EnsureUser(context.Background(), Subject{ExternalID: "oidc|abc", Email: "jane@acme.example"})
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, UserStatusActive, user.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateTenant(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("INSERT INTO tenants").
			WithArgs(sqlmock.AnyArg(), "acme", "Acme School", string(TenantStatusActive),
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		store := NewStore(db)
		tenant := &Tenant{Slug: "acme", DisplayName: "Acme School"}
		require.NoError(t, store.CreateTenant(context.Background(), tenant))
		assert.NotEmpty(t, tenant.ID)
		assert.Equal(t, TenantStatusActive, tenant.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate slug", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("INSERT INTO tenants").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "tenants_slug_key"})

		store := NewStore(db)
		err := store.CreateTenant(context.Background(), &Tenant{Slug: "acme", DisplayName: "Acme School"})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("INSERT INTO tenants").
			WillReturnError(errors.New("connection refused"))

		store := NewStore(db)
		err := store.CreateTenant(context.Background(), &Tenant{Slug: "acme", DisplayName: "Acme School"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrConflict)
	})
}

func TestStore_UpdateTenantStatus_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("UPDATE tenants SET status").
		WithArgs(string(TenantStatusSuspended), sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewStore(db)
	err := store.UpdateTenantStatus(context.Background(), "missing", TenantStatusSuspended)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetUser_StoreUnavailable(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT id, external_id, email").
		WithArgs("u-1").
		WillReturnError(errors.New("connection refused"))

	store := NewStore(db)
	_, err := store.GetUser(context.Background(), "u-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
