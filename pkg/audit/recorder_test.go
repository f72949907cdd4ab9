package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRecorder(t *testing.T) (*Recorder, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_log").
		WillReturnResult(sqlmock.NewResult(0, 0))

	recorder, err := NewRecorder(db)
	require.NoError(t, err)

	return recorder, mock
}

func entryColumns() []string {
	return []string{
		"id", "timestamp", "actor_id", "actor_email", "tenant_id",
		"action", "target_type", "target_id", "metadata",
		"ip_address", "user_agent", "request_id",
	}
}

func TestRecorder_Append(t *testing.T) {
	recorder, mock := setupRecorder(t)

	mock.ExpectQuery("INSERT INTO audit_log").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	entry := &Entry{
		ActorID:    "user-1",
		ActorEmail: "head@northside.example",
		TenantID:   "tenant-1",
		Action:     ActionGrantCreate,
		TargetType: TargetGrant,
		TargetID:   "grant-9",
		Metadata:   map[string]any{"role": "app_admin"},
		Origin:     Origin{IPAddress: "10.0.0.1", RequestID: "req-7"},
	}

	require.NoError(t, recorder.Append(context.Background(), entry))
	assert.Equal(t, int64(42), entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorder_AppendSurvivesCancelledCaller(t *testing.T) {
	// the append must still run once the caller's context is cancelled
	recorder, mock := setupRecorder(t)

	mock.ExpectQuery("INSERT INTO audit_log").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := recorder.Append(ctx, &Entry{Action: ActionDecisionAllow})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorder_SearchByTenantAndAction(t *testing.T) {
	recorder, mock := setupRecorder(t)
	now := time.Now()

	mock.ExpectQuery("FROM audit_log").
		WillReturnRows(sqlmock.NewRows(entryColumns()).
			AddRow(int64(2), now, "user-1", "head@northside.example", "tenant-1",
				"grant.create", "grant", "grant-9", []byte(`{"role":"app_admin"}`),
				"10.0.0.1", "curl", "req-7").
			AddRow(int64(1), now.Add(-time.Hour), "user-1", "head@northside.example", "tenant-1",
				"grant.revoke", "grant", "grant-3", nil,
				"10.0.0.1", "curl", "req-2"))

	entries, err := recorder.Search(context.Background(), Filter{
		TenantID: "tenant-1",
		Actions:  []Action{ActionGrantCreate, ActionGrantRevoke},
		Limit:    50,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, ActionGrantCreate, entries[0].Action)
	assert.Equal(t, "app_admin", entries[0].Metadata["role"])
	assert.Equal(t, "req-7", entries[0].Origin.RequestID)
	assert.Nil(t, entries[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorder_GetStats(t *testing.T) {
	recorder, mock := setupRecorder(t)
	earliest := time.Now().Add(-48 * time.Hour)
	latest := time.Now()

	mock.ExpectQuery("SELECT(.+)COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count", "actors", "min", "max"}).
			AddRow(int64(7), int64(3), earliest, latest))
	mock.ExpectQuery("GROUP BY action").
		WillReturnRows(sqlmock.NewRows([]string{"key", "count"}).
			AddRow("decision.allow", int64(5)).
			AddRow("grant.create", int64(2)))
	mock.ExpectQuery("GROUP BY tenant_id").
		WillReturnRows(sqlmock.NewRows([]string{"key", "count"}).
			AddRow("tenant-1", int64(6)).
			AddRow("", int64(1)))

	stats, err := recorder.GetStats(context.Background(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(7), stats.TotalEntries)
	assert.Equal(t, int64(3), stats.DistinctActors)
	assert.Equal(t, int64(5), stats.ByAction[ActionDecisionAllow])
	assert.Equal(t, int64(6), stats.ByTenant["tenant-1"])
	// entries with no tenant stay out of the per-tenant breakdown
	assert.NotContains(t, stats.ByTenant, "")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorder_ExportCSV(t *testing.T) {
	recorder, mock := setupRecorder(t)
	now := time.Now()

	mock.ExpectQuery("FROM audit_log").
		WillReturnRows(sqlmock.NewRows(entryColumns()).
			AddRow(int64(1), now, "user-1", "head@northside.example", "tenant-1",
				"flag.toggle", "flag", "covers.smart_fill", nil, "", "", ""))

	data, err := recorder.Export(context.Background(), Filter{TenantID: "tenant-1"}, ExportFormatCSV)
	require.NoError(t, err)

	assert.Contains(t, string(data), "ID,Timestamp,ActorID")
	assert.Contains(t, string(data), "flag.toggle")
	assert.Contains(t, string(data), "covers.smart_fill")
}

func TestParseExportFormat(t *testing.T) {
	format, err := ParseExportFormat("")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatJSON, format)

	format, err = ParseExportFormat("ndjson")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatNDJSON, format)

	_, err = ParseExportFormat("xml")
	assert.Error(t, err)
}
