package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mtaha-9646/schedules-covers/pkg/apps"
	"github.com/mtaha-9646/schedules-covers/pkg/audit"
	"github.com/mtaha-9646/schedules-covers/pkg/catalog"
	"github.com/mtaha-9646/schedules-covers/pkg/decision"
	"github.com/mtaha-9646/schedules-covers/pkg/httputil"
	"github.com/mtaha-9646/schedules-covers/pkg/identity"
)

// IdentityStore is the slice of identity.Store the tenant and
// membership handlers use
type IdentityStore interface {
	CreateTenant(ctx context.Context, tenant *identity.Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*identity.Tenant, error)
	ListTenants(ctx context.Context) ([]*identity.Tenant, error)
	UpdateTenantStatus(ctx context.Context, tenantID string, status identity.TenantStatus) error
	UpdateTenantSettings(ctx context.Context, tenantID string, settings map[string]any) error
	UpsertMembership(ctx context.Context, tenantID, userID string, status identity.MembershipStatus, invitedBy *string) (*identity.Membership, error)
	ListMemberships(ctx context.Context, tenantID string) ([]*identity.Membership, error)
	OffboardMembership(ctx context.Context, tenantID, userID string) error
}

// PortalEnabler enables the portal app for a newly created tenant,
// implemented by apps.Store
type PortalEnabler interface {
	GetAppByKey(ctx context.Context, key string) (*apps.App, error)
	UpsertTenantApp(ctx context.Context, row *apps.TenantApp) error
}

// TenantHandlers handles tenant lifecycle and membership requests
type TenantHandlers struct {
	store   IdentityStore
	portal  PortalEnabler
	decider Decider
	logger  *logrus.Logger
}

// NewTenantHandlers creates the tenant handlers
func NewTenantHandlers(store IdentityStore, portal PortalEnabler, decider Decider, logger *logrus.Logger) *TenantHandlers {
	return &TenantHandlers{store: store, portal: portal, decider: decider, logger: logger}
}

// RegisterRoutes registers tenant and membership routes
func (h *TenantHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tenants", h.CreateTenant).Methods("POST")
	router.HandleFunc("/tenants", h.ListTenants).Methods("GET")
	router.HandleFunc("/tenants/{id}", h.GetTenant).Methods("GET")
	router.HandleFunc("/tenants/{id}/status", h.UpdateStatus).Methods("PUT")
	router.HandleFunc("/tenants/{id}/settings", h.UpdateSettings).Methods("PUT")

	router.HandleFunc("/tenants/{id}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/tenants/{id}/members/{user_id}", h.UpsertMember).Methods("PUT")
	router.HandleFunc("/tenants/{id}/members/{user_id}", h.OffboardMember).Methods("DELETE")
}

// CreateTenantRequest is the wire form of a tenant creation
type CreateTenantRequest struct {
	Slug        string         `json:"slug"`
	DisplayName string         `json:"display_name"`
	Settings    map[string]any `json:"settings,omitempty"`
	Branding    map[string]any `json:"branding,omitempty"`
}

// CreateTenant provisions a tenant. Platform-scoped: only holders of
// portal.tenants.manage may create tenants. The portal app is enabled
// for the new tenant immediately so its admins can reach the console.
func (h *TenantHandlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	var req CreateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Slug == "" || req.DisplayName == "" {
		httputil.WriteBadRequest(w, "slug and display_name are required")
		return
	}

	tenant := &identity.Tenant{
		Slug:        req.Slug,
		DisplayName: req.DisplayName,
		Status:      identity.TenantStatusActive,
		Settings:    req.Settings,
		Branding:    req.Branding,
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:       subject,
		Permission:    catalog.PermTenantsManage,
		StateChanging: true,
		Action:        audit.ActionTenantCreate,
		Target:        &decision.Target{Type: audit.TargetTenant, ID: req.Slug},
		Origin:        originOf(r),
	}) {
		return
	}

	if err := h.store.CreateTenant(r.Context(), tenant); err != nil {
		if errors.Is(err, identity.ErrConflict) {
			httputil.WriteConflict(w, "tenant slug already in use")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	if err := h.enablePortal(r.Context(), tenant.ID); err != nil {
		// tenant exists but its console is dark until an operator
		// enables the portal by hand
		h.logger.WithError(err).WithField("tenant_id", tenant.ID).
			Error("failed to enable portal for new tenant")
	}

	httputil.WriteCreated(w, tenant)
}

func (h *TenantHandlers) enablePortal(ctx context.Context, tenantID string) error {
	portal, err := h.portal.GetAppByKey(ctx, PortalAppKey)
	if err != nil {
		return err
	}
	return h.portal.UpsertTenantApp(ctx, &apps.TenantApp{
		TenantID: tenantID,
		AppID:    portal.ID,
		Enabled:  true,
	})
}

// ListTenants lists all tenants, platform-scoped
func (h *TenantHandlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:    subject,
		Permission: catalog.PermTenantsManage,
	}) {
		return
	}

	tenants, err := h.store.ListTenants(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, tenants)
}

// GetTenant retrieves one tenant
func (h *TenantHandlers) GetTenant(w http.ResponseWriter, r *http.Request) {
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
		Permission: catalog.PermTenantsManage,
	}) {
		return
	}

	tenant, err := h.store.GetTenant(r.Context(), tenantID)
	if errors.Is(err, identity.ErrNotFound) {
		httputil.WriteNotFoundError(w, "tenant not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, tenant)
}

// UpdateStatus transitions a tenant's lifecycle status. Platform-scoped:
// a tenant cannot reactivate itself through a console the suspension
// just switched off.
func (h *TenantHandlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Status identity.TenantStatus `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	switch req.Status {
	case identity.TenantStatusActive, identity.TenantStatusSuspended, identity.TenantStatusDeleted:
	default:
		httputil.WriteBadRequest(w, "invalid tenant status")
		return
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:       subject,
		Permission:    catalog.PermTenantsManage,
		StateChanging: true,
		Action:        audit.ActionTenantStatusChange,
		Target:        &decision.Target{Type: audit.TargetTenant, ID: tenantID},
		Origin:        originOf(r),
	}) {
		return
	}

	if err := h.store.UpdateTenantStatus(r.Context(), tenantID, req.Status); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			httputil.WriteNotFoundError(w, "tenant not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]any{"id": tenantID, "status": req.Status})
}

// UpdateSettings replaces a tenant's settings blob, tenant-scoped
func (h *TenantHandlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Settings map[string]any `json:"settings"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if !authorize(w, r, h.decider, decision.Request{
		Subject:       subject,
		TenantID:      tenantID,
		AppKey:        PortalAppKey,
		Permission:    catalog.PermTenantsManage,
		StateChanging: true,
		Action:        audit.ActionTenantUpdate,
		Target:        &decision.Target{Type: audit.TargetTenant, ID: tenantID},
		Origin:        originOf(r),
	}) {
		return
	}

	if err := h.store.UpdateTenantSettings(r.Context(), tenantID, req.Settings); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			httputil.WriteNotFoundError(w, "tenant not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]any{"id": tenantID, "settings": req.Settings})
}

// ListMembers lists a tenant's memberships
func (h *TenantHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
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
		Permission: catalog.PermUsersManage,
	}) {
		return
	}

	members, err := h.store.ListMemberships(r.Context(), tenantID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, members)
}

// UpsertMember creates or updates a membership. Idempotent on the
// (tenant, user) pair.
func (h *TenantHandlers) UpsertMember(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}

	var req struct {
		Status identity.MembershipStatus `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Status == "" {
		req.Status = identity.MembershipStatusActive
	}
	switch req.Status {
	case identity.MembershipStatusActive, identity.MembershipStatusInvited, identity.MembershipStatusOffboarded:
	default:
		httputil.WriteBadRequest(w, "invalid membership status")
		return
	}

	if !authorize(w, r, h.decider, decision.Request{
		Subject:       subject,
		TenantID:      tenantID,
		AppKey:        PortalAppKey,
		Permission:    catalog.PermUsersManage,
		StateChanging: true,
		Action:        audit.ActionMembershipUpsert,
		Target:        &decision.Target{Type: audit.TargetMembership, ID: userID},
		Origin:        originOf(r),
	}) {
		return
	}

	membership, err := h.store.UpsertMembership(r.Context(), tenantID, userID, req.Status, &subject.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			httputil.WriteNotFoundError(w, "tenant or user not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, membership)
}

// OffboardMember soft-removes a membership
func (h *TenantHandlers) OffboardMember(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}

	if !authorize(w, r, h.decider, decision.Request{
		Subject:       subject,
		TenantID:      tenantID,
		AppKey:        PortalAppKey,
		Permission:    catalog.PermUsersManage,
		StateChanging: true,
		Action:        audit.ActionMembershipOffboard,
		Target:        &decision.Target{Type: audit.TargetMembership, ID: userID},
		Origin:        originOf(r),
	}) {
		return
	}

	if err := h.store.OffboardMembership(r.Context(), tenantID, userID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			httputil.WriteNotFoundError(w, "membership not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
