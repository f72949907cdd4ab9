package flags

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store handles feature flag persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new flags store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertFlag creates or replaces a flag definition, keyed by flag key
func (s *Store) UpsertFlag(ctx context.Context, flag *Flag) error {
	rulesJSON, err := json.Marshal(flag.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	query := `
		INSERT INTO feature_flags (key, description, enabled, rules, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key)
		DO UPDATE SET description = EXCLUDED.description, enabled = EXCLUDED.enabled,
		              rules = EXCLUDED.rules, updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`

	err = s.db.QueryRowContext(ctx, query,
		flag.Key,
		flag.Description,
		flag.Enabled,
		rulesJSON,
		time.Now(),
	).Scan(&flag.CreatedAt, &flag.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert flag: %w", err)
	}

	return nil
}

// GetFlag retrieves a flag by key
func (s *Store) GetFlag(ctx context.Context, key string) (*Flag, error) {
	query := `
		SELECT key, description, enabled, rules, created_at, updated_at
		FROM feature_flags
		WHERE key = $1
	`

	var flag Flag
	var rulesJSON []byte

	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&flag.Key,
		&flag.Description,
		&flag.Enabled,
		&rulesJSON,
		&flag.CreatedAt,
		&flag.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("flag %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flag: %w", err)
	}

	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &flag.Rules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
		}
	}

	return &flag, nil
}

// ListFlags lists all flag definitions
func (s *Store) ListFlags(ctx context.Context) ([]*Flag, error) {
	query := `
		SELECT key, description, enabled, rules, created_at, updated_at
		FROM feature_flags
		ORDER BY key
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}
	defer rows.Close()

	var list []*Flag
	for rows.Next() {
		var flag Flag
		var rulesJSON []byte

		err := rows.Scan(
			&flag.Key,
			&flag.Description,
			&flag.Enabled,
			&rulesJSON,
			&flag.CreatedAt,
			&flag.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flag: %w", err)
		}

		if len(rulesJSON) > 0 {
			if err := json.Unmarshal(rulesJSON, &flag.Rules); err != nil {
				return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
			}
		}

		list = append(list, &flag)
	}

	return list, rows.Err()
}

// SetEnabled flips the kill switch without touching the rules
func (s *Store) SetEnabled(ctx context.Context, key string, enabled bool) error {
	query := `UPDATE feature_flags SET enabled = $1, updated_at = $2 WHERE key = $3`

	result, err := s.db.ExecContext(ctx, query, enabled, time.Now(), key)
	if err != nil {
		return fmt.Errorf("failed to set flag enabled: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("flag %s: %w", key, ErrNotFound)
	}

	return nil
}
