package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the core schema in order: tenants, users, and
// memberships, the app registry and per-tenant enablement, role grant
// edges, and feature flags. The role catalog and the audit log manage
// their own tables.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id UUID PRIMARY KEY,
					slug VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					status VARCHAR(20) NOT NULL,
					settings JSONB,
					branding JSONB,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(status);
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					external_id VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(255) NOT NULL,
					full_name VARCHAR(255),
					status VARCHAR(20) NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
			`,
		},
		{
			Version:     3,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL REFERENCES tenants(id),
					user_id UUID NOT NULL REFERENCES users(id),
					status VARCHAR(20) NOT NULL,
					invited_by UUID,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					UNIQUE (tenant_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_tenant_id ON memberships(tenant_id);
				CREATE INDEX IF NOT EXISTS idx_memberships_user_id ON memberships(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create apps table",
			SQL: `
				CREATE TABLE IF NOT EXISTS apps (
					id UUID PRIMARY KEY,
					key VARCHAR(255) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					base_url VARCHAR(1024),
					status VARCHAR(20) NOT NULL,
					manifest JSONB,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     5,
			Description: "Create tenant_apps table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_apps (
					tenant_id UUID NOT NULL REFERENCES tenants(id),
					app_id UUID NOT NULL REFERENCES apps(id),
					enabled BOOLEAN NOT NULL DEFAULT FALSE,
					config JSONB,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					PRIMARY KEY (tenant_id, app_id)
				);
			`,
		},
		{
			Version:     6,
			Description: "Create membership_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS membership_roles (
					id UUID PRIMARY KEY,
					membership_id UUID NOT NULL REFERENCES memberships(id) ON DELETE CASCADE,
					role_id UUID NOT NULL REFERENCES roles(id),
					app_key VARCHAR(255),
					granted_by UUID,
					granted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_membership_roles_edge
					ON membership_roles (membership_id, role_id, COALESCE(app_key, ''));
				CREATE INDEX IF NOT EXISTS idx_membership_roles_membership_id
					ON membership_roles(membership_id);
			`,
		},
		{
			Version:     7,
			Description: "Create platform_grants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS platform_grants (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id),
					role_id UUID NOT NULL REFERENCES roles(id),
					granted_by UUID,
					granted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					UNIQUE (user_id, role_id)
				);
			`,
		},
		{
			Version:     8,
			Description: "Create feature_flags table",
			SQL: `
				CREATE TABLE IF NOT EXISTS feature_flags (
					key VARCHAR(255) PRIMARY KEY,
					description TEXT,
					enabled BOOLEAN NOT NULL DEFAULT FALSE,
					rules JSONB,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
	}
}

// RunMigrations applies pending core migrations inside transactions.
// The role catalog migrations must run first: membership_roles and
// platform_grants reference the roles table.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS core_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM core_migrations`)
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
			`INSERT INTO core_migrations (version, description) VALUES ($1, $2)`,
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
