package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Recorder appends to and queries the audit trail in PostgreSQL. The
// trail is append-only: there is no update or per-entry delete path.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a database-backed recorder and ensures the
// audit_log table exists
func NewRecorder(db *sql.DB) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	r := &Recorder{db: db}
	if err := r.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_log table: %w", err)
	}

	return r, nil
}

func (r *Recorder) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		actor_id VARCHAR(64),
		actor_email VARCHAR(255),
		tenant_id VARCHAR(64),
		action VARCHAR(100) NOT NULL,
		target_type VARCHAR(50),
		target_id VARCHAR(255),
		metadata JSONB,
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(100)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_log_tenant_id ON audit_log(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_actor_id ON audit_log(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
	`

	_, err := r.db.Exec(query)
	return err
}

// Append writes one entry. The write is detached from the caller's
// cancellation: an append that has started runs to completion so an
// allowed state change cannot lose its trail to a dropped request.
func (r *Recorder) Append(ctx context.Context, entry *Entry) error {
	ctx = context.WithoutCancel(ctx)

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_log (
			timestamp, actor_id, actor_email, tenant_id,
			action, target_type, target_id, metadata,
			ip_address, user_agent, request_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		entry.Timestamp, entry.ActorID, entry.ActorEmail, entry.TenantID,
		entry.Action, entry.TargetType, entry.TargetID, metadataJSON,
		entry.Origin.IPAddress, entry.Origin.UserAgent, entry.Origin.RequestID,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// Search returns entries matching the filter, newest first
func (r *Recorder) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := `
		SELECT
			id, timestamp, actor_id, actor_email, tenant_id,
			action, target_type, target_id, metadata,
			ip_address, user_agent, request_id
		FROM audit_log
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, filter.TenantID)
		argCount++
	}

	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, filter.ActorID)
		argCount++
	}

	if len(filter.Actions) > 0 {
		query += fmt.Sprintf(" AND action = ANY($%d)", argCount)
		actionStrs := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actionStrs[i] = string(a)
		}
		args = append(args, pq.Array(actionStrs))
		argCount++
	}

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var entry Entry
	var actorID, actorEmail, tenantID sql.NullString
	var targetType, targetID sql.NullString
	var ipAddress, userAgent, requestID sql.NullString
	var metadataJSON []byte

	err := rows.Scan(
		&entry.ID, &entry.Timestamp, &actorID, &actorEmail, &tenantID,
		&entry.Action, &targetType, &targetID, &metadataJSON,
		&ipAddress, &userAgent, &requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	entry.ActorID = actorID.String
	entry.ActorEmail = actorEmail.String
	entry.TenantID = tenantID.String
	entry.TargetType = TargetType(targetType.String)
	entry.TargetID = targetID.String
	entry.Origin = Origin{
		IPAddress: ipAddress.String,
		UserAgent: userAgent.String,
		RequestID: requestID.String,
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &entry, nil
}

// GetStats summarizes the trail over an optional time window
func (r *Recorder) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(DISTINCT actor_id),
			MIN(timestamp),
			MAX(timestamp)
		FROM audit_log
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if startTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *startTime)
		argCount++
	}
	if endTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *endTime)
	}

	stats := &Stats{
		ByAction: map[Action]int64{},
		ByTenant: map[string]int64{},
	}

	var earliest, latest sql.NullTime
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalEntries,
		&stats.DistinctActors,
		&earliest,
		&latest,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}

	if earliest.Valid {
		stats.EarliestEntry = &earliest.Time
	}
	if latest.Valid {
		stats.LatestEntry = &latest.Time
	}

	if err := r.countBy(ctx, "action", startTime, endTime, func(key string, n int64) {
		stats.ByAction[Action(key)] = n
	}); err != nil {
		return nil, err
	}
	if err := r.countBy(ctx, "tenant_id", startTime, endTime, func(key string, n int64) {
		if key != "" {
			stats.ByTenant[key] = n
		}
	}); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *Recorder) countBy(ctx context.Context, column string, startTime, endTime *time.Time, collect func(string, int64)) error {
	// column is one of two fixed literals, never user input
	query := fmt.Sprintf(`SELECT COALESCE(%s, ''), COUNT(*) FROM audit_log WHERE 1=1`, column)

	args := []interface{}{}
	argCount := 1

	if startTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *startTime)
		argCount++
	}
	if endTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *endTime)
	}

	query += fmt.Sprintf(" GROUP BY %s", column)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to count audit log by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan audit count: %w", err)
		}
		collect(key, n)
	}

	return rows.Err()
}

// Export serializes entries matching the filter in the given format
func (r *Recorder) Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error) {
	entries, err := r.Search(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatCSV:
		return exportCSV(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	default:
		return exportJSON(entries)
	}
}
