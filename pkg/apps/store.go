package apps

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store handles app registry and tenant-app enablement persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new apps store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateApp registers an application
func (s *Store) CreateApp(ctx context.Context, app *App) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.Status == "" {
		app.Status = AppStatusActive
	}

	manifestJSON, err := json.Marshal(app.Manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	query := `
		INSERT INTO apps (id, key, name, base_url, status, manifest, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`

	now := time.Now()
	_, err = s.db.ExecContext(ctx, query,
		app.ID,
		app.Key,
		app.Name,
		app.BaseURL,
		app.Status,
		manifestJSON,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	app.CreatedAt = now
	app.UpdatedAt = now
	return nil
}

// GetApp retrieves an app by ID
func (s *Store) GetApp(ctx context.Context, appID string) (*App, error) {
	query := `
		SELECT id, key, name, base_url, status, manifest, created_at, updated_at
		FROM apps
		WHERE id = $1
	`
	return s.scanApp(s.db.QueryRowContext(ctx, query, appID), appID)
}

// GetAppByKey retrieves an app by its stable key
func (s *Store) GetAppByKey(ctx context.Context, key string) (*App, error) {
	query := `
		SELECT id, key, name, base_url, status, manifest, created_at, updated_at
		FROM apps
		WHERE key = $1
	`
	return s.scanApp(s.db.QueryRowContext(ctx, query, key), key)
}

func (s *Store) scanApp(row *sql.Row, ref string) (*App, error) {
	var app App
	var manifestJSON []byte

	err := row.Scan(
		&app.ID,
		&app.Key,
		&app.Name,
		&app.BaseURL,
		&app.Status,
		&manifestJSON,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("app %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}

	if len(manifestJSON) > 0 {
		if err := json.Unmarshal(manifestJSON, &app.Manifest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
		}
	}

	return &app, nil
}

// AppExists verifies an app key is registered
func (s *Store) AppExists(ctx context.Context, appKey string) error {
	query := `SELECT 1 FROM apps WHERE key = $1`

	var one int
	err := s.db.QueryRowContext(ctx, query, appKey).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("app %s: %w", appKey, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check app: %w", err)
	}
	return nil
}

// ListApps lists the app registry
func (s *Store) ListApps(ctx context.Context) ([]*App, error) {
	query := `
		SELECT id, key, name, base_url, status, manifest, created_at, updated_at
		FROM apps
		ORDER BY key
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	var list []*App
	for rows.Next() {
		var app App
		var manifestJSON []byte

		err := rows.Scan(
			&app.ID,
			&app.Key,
			&app.Name,
			&app.BaseURL,
			&app.Status,
			&manifestJSON,
			&app.CreatedAt,
			&app.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}

		if len(manifestJSON) > 0 {
			if err := json.Unmarshal(manifestJSON, &app.Manifest); err != nil {
				return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
			}
		}

		list = append(list, &app)
	}

	return list, rows.Err()
}

// UpdateAppStatus transitions an app's lifecycle status
func (s *Store) UpdateAppStatus(ctx context.Context, appID string, status AppStatus) error {
	query := `UPDATE apps SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, status, time.Now(), appID)
	if err != nil {
		return fmt.Errorf("failed to update app status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("app %s: %w", appID, ErrNotFound)
	}

	return nil
}

// UpsertTenantApp sets the enablement switch and per-tenant config for a
// (tenant, app) pair. Idempotent on the pair.
func (s *Store) UpsertTenantApp(ctx context.Context, row *TenantApp) error {
	configJSON, err := json.Marshal(row.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO tenant_apps (tenant_id, app_id, enabled, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (tenant_id, app_id)
		DO UPDATE SET enabled = EXCLUDED.enabled, config = EXCLUDED.config, updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`

	err = s.db.QueryRowContext(ctx, query,
		row.TenantID,
		row.AppID,
		row.Enabled,
		configJSON,
		time.Now(),
	).Scan(&row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant app: %w", err)
	}

	return nil
}

// GetTenantApp retrieves the enablement row for a (tenant, app key) pair
func (s *Store) GetTenantApp(ctx context.Context, tenantID, appKey string) (*TenantApp, error) {
	query := `
		SELECT ta.tenant_id, ta.app_id, ta.enabled, ta.config, ta.created_at, ta.updated_at
		FROM tenant_apps ta
		JOIN apps a ON a.id = ta.app_id
		WHERE ta.tenant_id = $1 AND a.key = $2
	`

	var row TenantApp
	var configJSON []byte

	err := s.db.QueryRowContext(ctx, query, tenantID, appKey).Scan(
		&row.TenantID,
		&row.AppID,
		&row.Enabled,
		&configJSON,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant app %s/%s: %w", tenantID, appKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant app: %w", err)
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &row.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	return &row, nil
}
