package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mtaha-9646/schedules-covers/pkg/apps"
	"github.com/mtaha-9646/schedules-covers/pkg/audit"
	"github.com/mtaha-9646/schedules-covers/pkg/catalog"
	"github.com/mtaha-9646/schedules-covers/pkg/decision"
	"github.com/mtaha-9646/schedules-covers/pkg/httputil"
)

// AppStore is the slice of apps.Store the handlers use
type AppStore interface {
	CreateApp(ctx context.Context, app *apps.App) error
	GetAppByKey(ctx context.Context, key string) (*apps.App, error)
	ListApps(ctx context.Context) ([]*apps.App, error)
	UpdateAppStatus(ctx context.Context, appID string, status apps.AppStatus) error
	UpsertTenantApp(ctx context.Context, row *apps.TenantApp) error
	GetTenantApp(ctx context.Context, tenantID, appKey string) (*apps.TenantApp, error)
}

// AppHandlers handles the app registry and per-tenant enablement
type AppHandlers struct {
	store   AppStore
	decider Decider
}

// NewAppHandlers creates the app handlers
func NewAppHandlers(store AppStore, decider Decider) *AppHandlers {
	return &AppHandlers{store: store, decider: decider}
}

// RegisterRoutes registers app registry and enablement routes
func (h *AppHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/apps", h.CreateApp).Methods("POST")
	router.HandleFunc("/apps", h.ListApps).Methods("GET")
	router.HandleFunc("/apps/{key}/status", h.UpdateStatus).Methods("PUT")

	router.HandleFunc("/tenants/{id}/apps/{key}", h.GetEnablement).Methods("GET")
	router.HandleFunc("/tenants/{id}/apps/{key}", h.SetEnablement).Methods("PUT")
}

// CreateAppRequest registers an application
type CreateAppRequest struct {
	Key      string        `json:"key"`
	Name     string        `json:"name"`
	BaseURL  string        `json:"base_url,omitempty"`
	Manifest apps.Manifest `json:"manifest,omitempty"`
}

// CreateApp registers an app, platform-scoped
func (h *AppHandlers) CreateApp(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	var req CreateAppRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Key == "" || req.Name == "" {
		httputil.WriteBadRequest(w, "key and name are required")
		return
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:       subject,
		Permission:    catalog.PermAppsManage,
		StateChanging: true,
		Action:        audit.ActionAppCreate,
		Target:        &decision.Target{Type: audit.TargetApp, ID: req.Key},
		Origin:        originOf(r),
	}) {
		return
	}

	app := &apps.App{
		Key:      req.Key,
		Name:     req.Name,
		BaseURL:  req.BaseURL,
		Status:   apps.AppStatusActive,
		Manifest: req.Manifest,
	}
	if err := h.store.CreateApp(r.Context(), app); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, app)
}

// ListApps lists the registry. Any asserted subject may read it; the
// registry holds no tenant data.
func (h *AppHandlers) ListApps(w http.ResponseWriter, r *http.Request) {
	if _, ok := subjectOf(w, r); !ok {
		return
	}

	list, err := h.store.ListApps(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, list)
}

// UpdateStatus transitions an app's lifecycle status, platform-scoped
func (h *AppHandlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	key, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}

	var req struct {
		Status apps.AppStatus `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	switch req.Status {
	case apps.AppStatusActive, apps.AppStatusDeprecated, apps.AppStatusRetired:
	default:
		httputil.WriteBadRequest(w, "invalid app status")
		return
	}

	app, err := h.store.GetAppByKey(r.Context(), key)
	if errors.Is(err, apps.ErrNotFound) {
		httputil.WriteNotFoundError(w, "app not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:       subject,
		Permission:    catalog.PermAppsManage,
		StateChanging: true,
		Action:        audit.ActionAppStatusChange,
		Target:        &decision.Target{Type: audit.TargetApp, ID: key},
		Origin:        originOf(r),
	}) {
		return
	}

	if err := h.store.UpdateAppStatus(r.Context(), app.ID, req.Status); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]any{"key": key, "status": req.Status})
}

// GetEnablement reads the enablement row for a (tenant, app) pair
func (h *AppHandlers) GetEnablement(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	key, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}

	if !authorize(w, r, h.decider, decision.Request{
		Subject:    subject,
		TenantID:   tenantID,
		AppKey:     PortalAppKey,
		Permission: catalog.PermAppsManage,
	}) {
		return
	}

	row, err := h.store.GetTenantApp(r.Context(), tenantID, key)
	if errors.Is(err, apps.ErrNotFound) {
		httputil.WriteNotFoundError(w, "app not enabled for tenant")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, row)
}

// SetEnablementRequest flips the enablement switch and optionally
// replaces the per-tenant config
type SetEnablementRequest struct {
	Enabled bool           `json:"enabled"`
	Config  map[string]any `json:"config,omitempty"`
}

// SetEnablement sets the enablement row for a (tenant, app) pair
func (h *AppHandlers) SetEnablement(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	key, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}

	var req SetEnablementRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	app, err := h.store.GetAppByKey(r.Context(), key)
	if errors.Is(err, apps.ErrNotFound) {
		httputil.WriteNotFoundError(w, "app not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if !authorize(w, r, h.decider, decision.Request{
		Subject:       subject,
		TenantID:      tenantID,
		AppKey:        PortalAppKey,
		Permission:    catalog.PermAppsManage,
		StateChanging: true,
		Action:        audit.ActionTenantAppUpsert,
		Target:        &decision.Target{Type: audit.TargetTenantApp, ID: tenantID + "/" + key},
		Origin:        originOf(r),
	}) {
		return
	}

	row := &apps.TenantApp{
		TenantID: tenantID,
		AppID:    app.ID,
		Enabled:  req.Enabled,
		Config:   req.Config,
	}
	if err := h.store.UpsertTenantApp(r.Context(), row); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, row)
}
