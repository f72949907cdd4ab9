package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lib/pq"
)

// expansionCacheSize bounds the role -> permission-keys cache. The catalog
// is read on every privileged request, so expansions are kept in-process
// and invalidated on mutation.
const expansionCacheSize = 512

// Store handles the role/permission catalog. Read-mostly; mutations are
// administrative operations gated by the decision service and audited by
// the caller.
type Store struct {
	db    *sql.DB
	cache *lru.Cache[string, []string]
}

// NewStore creates a new catalog store
func NewStore(db *sql.DB) (*Store, error) {
	cache, err := lru.New[string, []string](expansionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create expansion cache: %w", err)
	}
	return &Store{db: db, cache: cache}, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID string) (*Role, error) {
	query := `
		SELECT id, key, display_name, description, scope, grants_all, created_at, updated_at
		FROM roles
		WHERE id = $1
	`
	return s.scanRole(s.db.QueryRowContext(ctx, query, roleID), roleID)
}

// GetRoleByKey retrieves a role by its stable key
func (s *Store) GetRoleByKey(ctx context.Context, key string) (*Role, error) {
	query := `
		SELECT id, key, display_name, description, scope, grants_all, created_at, updated_at
		FROM roles
		WHERE key = $1
	`
	return s.scanRole(s.db.QueryRowContext(ctx, query, key), key)
}

func (s *Store) scanRole(row *sql.Row, ref string) (*Role, error) {
	var role Role
	var description sql.NullString

	err := row.Scan(
		&role.ID,
		&role.Key,
		&role.DisplayName,
		&description,
		&role.Scope,
		&role.GrantsAll,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if description.Valid {
		role.Description = description.String
	}

	return &role, nil
}

// ListRoles lists the whole role catalog
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	query := `
		SELECT id, key, display_name, description, scope, grants_all, created_at, updated_at
		FROM roles
		ORDER BY scope, key
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		var role Role
		var description sql.NullString

		err := rows.Scan(
			&role.ID,
			&role.Key,
			&role.DisplayName,
			&description,
			&role.Scope,
			&role.GrantsAll,
			&role.CreatedAt,
			&role.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}

		if description.Valid {
			role.Description = description.String
		}

		roles = append(roles, &role)
	}

	return roles, rows.Err()
}

// ListPermissions lists the whole permission vocabulary
func (s *Store) ListPermissions(ctx context.Context) ([]*Permission, error) {
	query := `SELECT key, description, created_at FROM permissions ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var permissions []*Permission
	for rows.Next() {
		var p Permission
		var description sql.NullString

		if err := rows.Scan(&p.Key, &description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if description.Valid {
			p.Description = description.String
		}

		permissions = append(permissions, &p)
	}

	return permissions, rows.Err()
}

// ListPermissionsForRole expands a role to its permission keys. Results are
// cached; mutations invalidate the affected role.
func (s *Store) ListPermissionsForRole(ctx context.Context, roleID string) ([]string, error) {
	if keys, ok := s.cache.Get(roleID); ok {
		return keys, nil
	}

	query := `
		SELECT permission_key
		FROM role_permissions
		WHERE role_id = $1
		ORDER BY permission_key
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to expand role %s: %w", roleID, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan permission key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.cache.Add(roleID, keys)
	return keys, nil
}

// ExpandRoles expands several roles at once, for the resolver's hot path
func (s *Store) ExpandRoles(ctx context.Context, roleIDs []string) (map[string][]string, error) {
	expanded := make(map[string][]string, len(roleIDs))
	missing := make([]string, 0)

	for _, id := range roleIDs {
		if keys, ok := s.cache.Get(id); ok {
			expanded[id] = keys
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		return expanded, nil
	}

	query := `
		SELECT role_id, permission_key
		FROM role_permissions
		WHERE role_id = ANY($1)
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(missing))
	if err != nil {
		return nil, fmt.Errorf("failed to expand roles: %w", err)
	}
	defer rows.Close()

	fetched := make(map[string][]string, len(missing))
	for _, id := range missing {
		fetched[id] = []string{}
	}
	for rows.Next() {
		var roleID, key string
		if err := rows.Scan(&roleID, &key); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		fetched[roleID] = append(fetched[roleID], key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for id, keys := range fetched {
		s.cache.Add(id, keys)
		expanded[id] = keys
	}

	return expanded, nil
}

// CreatePermission registers a new permission key. Keys are append-only:
// once published they keep their meaning forever.
func (s *Store) CreatePermission(ctx context.Context, p *Permission) error {
	query := `
		INSERT INTO permissions (key, description, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`

	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query, p.Key, p.Description, now); err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}

	p.CreatedAt = now
	return nil
}

// CreateRole adds a role to the catalog
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}

	query := `
		INSERT INTO roles (id, key, display_name, description, scope, grants_all, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`

	now := time.Now()
	_, err := s.db.ExecContext(ctx, query,
		role.ID,
		role.Key,
		role.DisplayName,
		role.Description,
		role.Scope,
		role.GrantsAll,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// BindPermission adds a permission to a role. Idempotent on the
// (role, permission) pair.
func (s *Store) BindPermission(ctx context.Context, roleID, permissionKey string) error {
	query := `
		INSERT INTO role_permissions (role_id, permission_key, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (role_id, permission_key) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, roleID, permissionKey, time.Now()); err != nil {
		return fmt.Errorf("failed to bind permission: %w", err)
	}

	s.cache.Remove(roleID)
	return nil
}

// UnbindPermission removes a permission from a role
func (s *Store) UnbindPermission(ctx context.Context, roleID, permissionKey string) error {
	query := `DELETE FROM role_permissions WHERE role_id = $1 AND permission_key = $2`

	if _, err := s.db.ExecContext(ctx, query, roleID, permissionKey); err != nil {
		return fmt.Errorf("failed to unbind permission: %w", err)
	}

	s.cache.Remove(roleID)
	return nil
}
