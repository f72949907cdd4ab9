package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store handles tenant, user, and membership persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new identity store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CreateTenant creates a new tenant
func (s *Store) CreateTenant(ctx context.Context, tenant *Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if tenant.Status == "" {
		tenant.Status = TenantStatusActive
	}

	settingsJSON, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	brandingJSON, err := json.Marshal(tenant.Branding)
	if err != nil {
		return fmt.Errorf("failed to marshal branding: %w", err)
	}

	query := `
		INSERT INTO tenants (id, slug, display_name, status, settings, branding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	now := time.Now()
	_, err = s.db.ExecContext(ctx, query,
		tenant.ID,
		tenant.Slug,
		tenant.DisplayName,
		tenant.Status,
		settingsJSON,
		brandingJSON,
		now,
		now,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("tenant slug %s: %w", tenant.Slug, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	return nil
}

// GetTenant retrieves a tenant by ID
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	query := `
		SELECT id, slug, display_name, status, settings, branding, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`

	var tenant Tenant
	var settingsJSON, brandingJSON []byte

	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&tenant.ID,
		&tenant.Slug,
		&tenant.DisplayName,
		&tenant.Status,
		&settingsJSON,
		&brandingJSON,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &tenant.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	if len(brandingJSON) > 0 {
		if err := json.Unmarshal(brandingJSON, &tenant.Branding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal branding: %w", err)
		}
	}

	return &tenant, nil
}

// GetTenantBySlug retrieves a tenant by its slug
func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	query := `SELECT id FROM tenants WHERE slug = $1`

	var id string
	err := s.db.QueryRowContext(ctx, query, slug).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %s: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant by slug: %w", err)
	}

	return s.GetTenant(ctx, id)
}

// ListTenants lists all tenants, most recently created first
func (s *Store) ListTenants(ctx context.Context) ([]*Tenant, error) {
	query := `
		SELECT id, slug, display_name, status, settings, branding, created_at, updated_at
		FROM tenants
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		var tenant Tenant
		var settingsJSON, brandingJSON []byte

		err := rows.Scan(
			&tenant.ID,
			&tenant.Slug,
			&tenant.DisplayName,
			&tenant.Status,
			&settingsJSON,
			&brandingJSON,
			&tenant.CreatedAt,
			&tenant.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}

		if len(settingsJSON) > 0 {
			if err := json.Unmarshal(settingsJSON, &tenant.Settings); err != nil {
				return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
			}
		}
		if len(brandingJSON) > 0 {
			if err := json.Unmarshal(brandingJSON, &tenant.Branding); err != nil {
				return nil, fmt.Errorf("failed to unmarshal branding: %w", err)
			}
		}

		tenants = append(tenants, &tenant)
	}

	return tenants, rows.Err()
}

// UpdateTenantStatus transitions a tenant's lifecycle status
func (s *Store) UpdateTenantStatus(ctx context.Context, tenantID string, status TenantStatus) error {
	query := `UPDATE tenants SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, status, time.Now(), tenantID)
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}

	return nil
}

// UpdateTenantSettings replaces the tenant's settings blob
func (s *Store) UpdateTenantSettings(ctx context.Context, tenantID string, settings map[string]any) error {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `UPDATE tenants SET settings = $1, updated_at = $2 WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, settingsJSON, time.Now(), tenantID)
	if err != nil {
		return fmt.Errorf("failed to update tenant settings: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}

	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	query := `
		SELECT id, external_id, email, full_name, status, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, userID), userID)
}

// GetUserByEmail retrieves a user by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, external_id, email, full_name, status, created_at, updated_at
		FROM users
		WHERE email = $1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email), email)
}

func (s *Store) scanUser(row *sql.Row, ref string) (*User, error) {
	var user User
	var fullName sql.NullString

	err := row.Scan(
		&user.ID,
		&user.ExternalID,
		&user.Email,
		&fullName,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if fullName.Valid {
		user.FullName = fullName.String
	}

	return &user, nil
}

// EnsureUser provisions a user from a verified identity assertion on first
// SSO login. Existing users are matched by external ID, so repeated logins
// do not create duplicate rows.
func (s *Store) EnsureUser(ctx context.Context, subject Subject) (*User, error) {
	query := `
		INSERT INTO users (id, external_id, email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (external_id)
		DO UPDATE SET email = EXCLUDED.email, updated_at = EXCLUDED.updated_at
		RETURNING id, external_id, email, full_name, status, created_at, updated_at
	`

	var user User
	var fullName sql.NullString

	err := s.db.QueryRowContext(ctx, query,
		uuid.NewString(),
		subject.ExternalID,
		subject.Email,
		UserStatusActive,
		time.Now(),
	).Scan(
		&user.ID,
		&user.ExternalID,
		&user.Email,
		&fullName,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	if fullName.Valid {
		user.FullName = fullName.String
	}

	return &user, nil
}

// UpdateUserStatus transitions a user's lifecycle status. Users are never
// deleted, only disabled, to preserve audit referential integrity.
func (s *Store) UpdateUserStatus(ctx context.Context, userID string, status UserStatus) error {
	query := `UPDATE users SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, status, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	return nil
}

// GetMembership retrieves the membership for a (tenant, user) pair
func (s *Store) GetMembership(ctx context.Context, tenantID, userID string) (*Membership, error) {
	query := `
		SELECT id, tenant_id, user_id, status, invited_by, created_at, updated_at
		FROM memberships
		WHERE tenant_id = $1 AND user_id = $2
	`

	var m Membership
	var invitedBy sql.NullString

	err := s.db.QueryRowContext(ctx, query, tenantID, userID).Scan(
		&m.ID,
		&m.TenantID,
		&m.UserID,
		&m.Status,
		&invitedBy,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("membership %s/%s: %w", tenantID, userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	if invitedBy.Valid {
		m.InvitedBy = &invitedBy.String
	}

	return &m, nil
}

// UpsertMembership creates or updates the membership for a (tenant, user)
// pair. Idempotent: the unique index on (tenant_id, user_id) serializes
// concurrent upserts to a single row, last writer wins on status.
func (s *Store) UpsertMembership(ctx context.Context, tenantID, userID string, status MembershipStatus, invitedBy *string) (*Membership, error) {
	query := `
		INSERT INTO memberships (id, tenant_id, user_id, status, invited_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (tenant_id, user_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		RETURNING id, tenant_id, user_id, status, invited_by, created_at, updated_at
	`

	var m Membership
	var invited sql.NullString

	err := s.db.QueryRowContext(ctx, query,
		uuid.NewString(),
		tenantID,
		userID,
		status,
		invitedBy,
		time.Now(),
	).Scan(
		&m.ID,
		&m.TenantID,
		&m.UserID,
		&m.Status,
		&invited,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert membership: %w", err)
	}

	if invited.Valid {
		m.InvitedBy = &invited.String
	}

	return &m, nil
}

// ListMemberships lists all memberships for a tenant
func (s *Store) ListMemberships(ctx context.Context, tenantID string) ([]*Membership, error) {
	query := `
		SELECT id, tenant_id, user_id, status, invited_by, created_at, updated_at
		FROM memberships
		WHERE tenant_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*Membership
	for rows.Next() {
		var m Membership
		var invitedBy sql.NullString

		err := rows.Scan(
			&m.ID,
			&m.TenantID,
			&m.UserID,
			&m.Status,
			&invitedBy,
			&m.CreatedAt,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}

		if invitedBy.Valid {
			m.InvitedBy = &invitedBy.String
		}

		memberships = append(memberships, &m)
	}

	return memberships, rows.Err()
}

// OffboardMembership soft-removes a user from a tenant. The row is kept
// with offboarded status so role grants and audit history stay resolvable.
func (s *Store) OffboardMembership(ctx context.Context, tenantID, userID string) error {
	query := `
		UPDATE memberships SET status = $1, updated_at = $2
		WHERE tenant_id = $3 AND user_id = $4
	`

	result, err := s.db.ExecContext(ctx, query, MembershipStatusOffboarded, time.Now(), tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to offboard membership: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("membership %s/%s: %w", tenantID, userID, ErrNotFound)
	}

	return nil
}
