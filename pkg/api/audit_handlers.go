package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mtaha-9646/schedules-covers/pkg/audit"
	"github.com/mtaha-9646/schedules-covers/pkg/catalog"
	"github.com/mtaha-9646/schedules-covers/pkg/decision"
	"github.com/mtaha-9646/schedules-covers/pkg/httputil"
)

const (
	defaultAuditPageSize = 100
	maxAuditPageSize     = 1000
)

// AuditReader is the read-only slice of audit.Recorder the handlers
// use. No delete operation exists to expose.
type AuditReader interface {
	Search(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error)
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*audit.Stats, error)
	Export(ctx context.Context, filter audit.Filter, format audit.ExportFormat) ([]byte, error)
}

// AuditHandlers exposes the audit query interface
type AuditHandlers struct {
	reader  AuditReader
	decider Decider
}

// NewAuditHandlers creates the audit handlers
func NewAuditHandlers(reader AuditReader, decider Decider) *AuditHandlers {
	return &AuditHandlers{reader: reader, decider: decider}
}

// RegisterRoutes registers audit routes
func (h *AuditHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tenants/{id}/audit", h.SearchTenant).Methods("GET")
	router.HandleFunc("/tenants/{id}/audit/export", h.ExportTenant).Methods("GET")
	router.HandleFunc("/audit", h.SearchPlatform).Methods("GET")
	router.HandleFunc("/audit/stats", h.Stats).Methods("GET")
}

func filterFrom(w http.ResponseWriter, r *http.Request) (audit.Filter, bool) {
	var filter audit.Filter

	filter.ActorID = r.URL.Query().Get("actor_id")
	if action := r.URL.Query().Get("action"); action != "" {
		filter.Actions = []audit.Action{audit.Action(action)}
	}

	start, err := httputil.ParseQueryTime(r, "start")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	end, err := httputil.ParseQueryTime(r, "end")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	filter.StartTime = start
	filter.EndTime = end

	limit, err := httputil.ParseQueryInt(r, "limit", defaultAuditPageSize)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	if limit <= 0 || limit > maxAuditPageSize {
		limit = defaultAuditPageSize
	}
	filter.Limit = limit

	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	filter.Offset = offset

	return filter, true
}

// SearchTenant queries one tenant's trail, tenant-scoped
func (h *AuditHandlers) SearchTenant(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if !authorize(w, r, h.decider, decision.Request{
		Subject:    subject,
		TenantID:   tenantID,
		AppKey:     PortalAppKey,
		Permission: catalog.PermAuditRead,
	}) {
		return
	}

	filter, ok := filterFrom(w, r)
	if !ok {
		return
	}
	filter.TenantID = tenantID

	entries, err := h.reader.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, entries)
}

// ExportTenant exports one tenant's trail. Exporting is itself a
// sensitive access and leaves its own entry.
func (h *AuditHandlers) ExportTenant(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	format, err := audit.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if !authorize(w, r, h.decider, decision.Request{
		Subject:       subject,
		TenantID:      tenantID,
		AppKey:        PortalAppKey,
		Permission:    catalog.PermAuditRead,
		StateChanging: true,
		Action:        audit.ActionAuditExport,
		Target:        &decision.Target{Type: audit.TargetTenant, ID: tenantID},
		Origin:        originOf(r),
	}) {
		return
	}

	filter, ok := filterFrom(w, r)
	if !ok {
		return
	}
	filter.TenantID = tenantID
	filter.Limit = 0

	data, err := h.reader.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	contentType := "application/json"
	switch format {
	case audit.ExportFormatNDJSON:
		contentType = "application/x-ndjson"
	case audit.ExportFormatCSV:
		contentType = "text/csv"
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// SearchPlatform queries the trail across tenants, platform-scoped
func (h *AuditHandlers) SearchPlatform(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:    subject,
		Permission: catalog.PermAuditRead,
	}) {
		return
	}

	filter, ok := filterFrom(w, r)
	if !ok {
		return
	}
	filter.TenantID = r.URL.Query().Get("tenant_id")

	entries, err := h.reader.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, entries)
}

// Stats summarizes the trail, platform-scoped
func (h *AuditHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:    subject,
		Permission: catalog.PermAuditRead,
	}) {
		return
	}

	start, err := httputil.ParseQueryTime(r, "start")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	end, err := httputil.ParseQueryTime(r, "end")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.reader.GetStats(r.Context(), start, end)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}
