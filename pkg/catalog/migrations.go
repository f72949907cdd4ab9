package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a versioned catalog schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the catalog schema in order. The catalog is a
// versioned reference table, not in-process mutable globals: runtime
// extension goes through the same store as everything else.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id UUID PRIMARY KEY,
					key VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					description TEXT,
					scope VARCHAR(20) NOT NULL,
					grants_all BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_roles_scope ON roles(scope);
			`,
		},
		{
			Version:     2,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					key VARCHAR(255) PRIMARY KEY,
					description TEXT,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_key VARCHAR(255) NOT NULL REFERENCES permissions(key),
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					PRIMARY KEY (role_id, permission_key)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_role_id ON role_permissions(role_id);
			`,
		},
	}
}

// RunMigrations applies pending catalog migrations inside transactions
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS catalog_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM catalog_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_migrations (version, description) VALUES ($1, $2)`,
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// SeedBuiltIns inserts the built-in roles and permissions if absent
func SeedBuiltIns(ctx context.Context, store *Store) error {
	for _, p := range BuiltInPermissions() {
		perm := p
		if err := store.CreatePermission(ctx, &perm); err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", p.Key, err)
		}
	}

	for _, seed := range BuiltInRoles() {
		role, err := store.GetRoleByKey(ctx, seed.Role.Key)
		if err == nil {
			for _, key := range seed.Permissions {
				if err := store.BindPermission(ctx, role.ID, key); err != nil {
					return fmt.Errorf("failed to bind %s to %s: %w", key, seed.Role.Key, err)
				}
			}
			continue
		}

		created := seed.Role
		if err := store.CreateRole(ctx, &created); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", seed.Role.Key, err)
		}
		for _, key := range seed.Permissions {
			if err := store.BindPermission(ctx, created.ID, key); err != nil {
				return fmt.Errorf("failed to bind %s to %s: %w", key, seed.Role.Key, err)
			}
		}
	}

	return nil
}
