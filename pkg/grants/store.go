package grants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a referenced grant is absent
var ErrNotFound = errors.New("grants: not found")

// Store handles role-grant persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new grants store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertGrant creates a role grant. Idempotent: the unique index on
// (membership_id, role_id, app_key) serializes concurrent grants of the
// identical edge to one row.
func (s *Store) UpsertGrant(ctx context.Context, grant *RoleGrant) error {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}

	var appKey sql.NullString
	if key, ok := grant.Scope.AppKey(); ok {
		appKey = sql.NullString{String: key, Valid: true}
	}

	query := `
		INSERT INTO membership_roles (id, membership_id, role_id, app_key, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (membership_id, role_id, COALESCE(app_key, ''))
		DO UPDATE SET granted_by = EXCLUDED.granted_by
		RETURNING id, granted_at
	`

	err := s.db.QueryRowContext(ctx, query,
		grant.ID,
		grant.MembershipID,
		grant.RoleID,
		appKey,
		grant.GrantedBy,
		time.Now(),
	).Scan(&grant.ID, &grant.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}

	return nil
}

// RevokeGrant removes a role grant edge
func (s *Store) RevokeGrant(ctx context.Context, membershipID, roleID string, scope AppScope) error {
	var appKey sql.NullString
	if key, ok := scope.AppKey(); ok {
		appKey = sql.NullString{String: key, Valid: true}
	}

	query := `
		DELETE FROM membership_roles
		WHERE membership_id = $1 AND role_id = $2
		  AND COALESCE(app_key, '') = COALESCE($3, '')
	`

	result, err := s.db.ExecContext(ctx, query, membershipID, roleID, appKey)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revoke result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("grant %s/%s: %w", membershipID, roleID, ErrNotFound)
	}

	return nil
}

// ListGrantsForApp returns the grants on a membership applying to the
// given app: tenant-wide rows plus rows scoped to that app.
func (s *Store) ListGrantsForApp(ctx context.Context, membershipID, appKey string) ([]*RoleGrant, error) {
	query := `
		SELECT id, membership_id, role_id, app_key, granted_by, granted_at
		FROM membership_roles
		WHERE membership_id = $1 AND (app_key IS NULL OR app_key = $2)
	`

	rows, err := s.db.QueryContext(ctx, query, membershipID, appKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	return scanGrants(rows)
}

// ListGrants returns every grant on a membership
func (s *Store) ListGrants(ctx context.Context, membershipID string) ([]*RoleGrant, error) {
	query := `
		SELECT id, membership_id, role_id, app_key, granted_by, granted_at
		FROM membership_roles
		WHERE membership_id = $1
	`

	rows, err := s.db.QueryContext(ctx, query, membershipID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	return scanGrants(rows)
}

func scanGrants(rows *sql.Rows) ([]*RoleGrant, error) {
	var grants []*RoleGrant
	for rows.Next() {
		var grant RoleGrant
		var appKey sql.NullString
		var grantedBy sql.NullString

		err := rows.Scan(
			&grant.ID,
			&grant.MembershipID,
			&grant.RoleID,
			&appKey,
			&grantedBy,
			&grant.GrantedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}

		if appKey.Valid {
			grant.Scope = ScopedToApp(appKey.String)
		} else {
			grant.Scope = TenantWide()
		}
		if grantedBy.Valid {
			grant.GrantedBy = &grantedBy.String
		}

		grants = append(grants, &grant)
	}

	return grants, rows.Err()
}

// UpsertPlatformGrant binds a platform role to a user. Idempotent on
// (user_id, role_id).
func (s *Store) UpsertPlatformGrant(ctx context.Context, grant *PlatformGrant) error {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}

	query := `
		INSERT INTO platform_grants (id, user_id, role_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role_id)
		DO UPDATE SET granted_by = EXCLUDED.granted_by
		RETURNING id, granted_at
	`

	err := s.db.QueryRowContext(ctx, query,
		grant.ID,
		grant.UserID,
		grant.RoleID,
		grant.GrantedBy,
		time.Now(),
	).Scan(&grant.ID, &grant.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert platform grant: %w", err)
	}

	return nil
}

// RevokePlatformGrant removes a platform role from a user
func (s *Store) RevokePlatformGrant(ctx context.Context, userID, roleID string) error {
	query := `DELETE FROM platform_grants WHERE user_id = $1 AND role_id = $2`

	result, err := s.db.ExecContext(ctx, query, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to revoke platform grant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revoke result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("platform grant %s/%s: %w", userID, roleID, ErrNotFound)
	}

	return nil
}

// ListPlatformRoleIDs returns the platform role IDs held by a user
func (s *Store) ListPlatformRoleIDs(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT role_id FROM platform_grants WHERE user_id = $1`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list platform grants: %w", err)
	}
	defer rows.Close()

	var roleIDs []string
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return nil, fmt.Errorf("failed to scan platform grant: %w", err)
		}
		roleIDs = append(roleIDs, roleID)
	}

	return roleIDs, rows.Err()
}
