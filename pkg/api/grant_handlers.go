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
	"github.com/mtaha-9646/schedules-covers/pkg/grants"
	"github.com/mtaha-9646/schedules-covers/pkg/httputil"
	"github.com/mtaha-9646/schedules-covers/pkg/identity"
)

// GrantStore is the slice of grants.Store the handlers use
type GrantStore interface {
	UpsertGrant(ctx context.Context, grant *grants.RoleGrant) error
	RevokeGrant(ctx context.Context, membershipID, roleID string, scope grants.AppScope) error
	ListGrants(ctx context.Context, membershipID string) ([]*grants.RoleGrant, error)
	UpsertPlatformGrant(ctx context.Context, grant *grants.PlatformGrant) error
	RevokePlatformGrant(ctx context.Context, userID, roleID string) error
}

// MembershipSource resolves the membership a grant hangs off,
// implemented by identity.Store
type MembershipSource interface {
	GetMembership(ctx context.Context, tenantID, userID string) (*identity.Membership, error)
}

// RoleSource resolves role keys, implemented by catalog.Store
type RoleSource interface {
	GetRoleByKey(ctx context.Context, key string) (*catalog.Role, error)
}

// AppRegistry verifies app keys on scoped grants, implemented by
// apps.Store
type AppRegistry interface {
	AppExists(ctx context.Context, appKey string) error
}

// GrantHandlers handles role grant mutations, the authorization edge
// admins change day to day
type GrantHandlers struct {
	store       GrantStore
	memberships MembershipSource
	roles       RoleSource
	apps        AppRegistry
	decider     Decider
}

// NewGrantHandlers creates the grant handlers
func NewGrantHandlers(store GrantStore, memberships MembershipSource, roles RoleSource, registry AppRegistry, decider Decider) *GrantHandlers {
	return &GrantHandlers{store: store, memberships: memberships, roles: roles, apps: registry, decider: decider}
}

// RegisterRoutes registers grant routes
func (h *GrantHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tenants/{id}/members/{user_id}/grants", h.ListGrants).Methods("GET")
	router.HandleFunc("/tenants/{id}/members/{user_id}/grants", h.CreateGrant).Methods("POST")
	router.HandleFunc("/tenants/{id}/members/{user_id}/grants", h.RevokeGrant).Methods("DELETE")

	router.HandleFunc("/platform/grants", h.CreatePlatformGrant).Methods("POST")
	router.HandleFunc("/platform/grants", h.RevokePlatformGrant).Methods("DELETE")
}

// GrantRequest names a role by key, optionally scoped to one app.
// An empty app_key is a tenant-wide grant.
type GrantRequest struct {
	RoleKey string `json:"role_key"`
	AppKey  string `json:"app_key,omitempty"`
}

func (h *GrantHandlers) resolveEdge(w http.ResponseWriter, r *http.Request) (membership *identity.Membership, role *catalog.Role, req GrantRequest, ok bool) {
	tenantID, pathOK := httputil.ParsePathStringOrError(w, r, "id")
	if !pathOK {
		return nil, nil, req, false
	}
	userID, pathOK := httputil.ParsePathStringOrError(w, r, "user_id")
	if !pathOK {
		return nil, nil, req, false
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return nil, nil, req, false
	}
	if req.RoleKey == "" {
		httputil.WriteBadRequest(w, "role_key is required")
		return nil, nil, req, false
	}

	membership, err := h.memberships.GetMembership(r.Context(), tenantID, userID)
	if errors.Is(err, identity.ErrNotFound) {
		httputil.WriteNotFoundError(w, "membership not found")
		return nil, nil, req, false
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return nil, nil, req, false
	}

	role, err = h.roles.GetRoleByKey(r.Context(), req.RoleKey)
	if errors.Is(err, catalog.ErrNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return nil, nil, req, false
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return nil, nil, req, false
	}

	if req.AppKey != "" {
		if err := h.apps.AppExists(r.Context(), req.AppKey); err != nil {
			if errors.Is(err, apps.ErrNotFound) {
				httputil.WriteNotFoundError(w, "app not found")
				return nil, nil, req, false
			}
			httputil.WriteInternalError(w, err)
			return nil, nil, req, false
		}
	}

	return membership, role, req, true
}

func scopeOf(req GrantRequest) grants.AppScope {
	if req.AppKey == "" {
		return grants.TenantWide()
	}
	return grants.ScopedToApp(req.AppKey)
}

// ListGrants lists a member's grants
func (h *GrantHandlers) ListGrants(w http.ResponseWriter, r *http.Request) {
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
		Subject:    subject,
		TenantID:   tenantID,
		AppKey:     PortalAppKey,
		Permission: catalog.PermRolesManage,
	}) {
		return
	}

	membership, err := h.memberships.GetMembership(r.Context(), tenantID, userID)
	if errors.Is(err, identity.ErrNotFound) {
		httputil.WriteNotFoundError(w, "membership not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	list, err := h.store.ListGrants(r.Context(), membership.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, list)
}

// CreateGrant binds a role to a membership. Idempotent on the
// (membership, role, app) edge.
func (h *GrantHandlers) CreateGrant(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	membership, role, req, ok := h.resolveEdge(w, r)
	if !ok {
		return
	}

	if !authorize(w, r, h.decider, decision.Request{
		Subject:       subject,
		TenantID:      membership.TenantID,
		AppKey:        PortalAppKey,
		Permission:    catalog.PermRolesManage,
		StateChanging: true,
		Action:        audit.ActionGrantCreate,
		Target:        &decision.Target{Type: audit.TargetGrant, ID: membership.ID + "/" + role.Key},
		Origin:        originOf(r),
	}) {
		return
	}

	grant := &grants.RoleGrant{
		MembershipID: membership.ID,
		RoleID:       role.ID,
		Scope:        scopeOf(req),
		GrantedBy:    &subject.UserID,
	}
	if err := h.store.UpsertGrant(r.Context(), grant); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, grant)
}

// RevokeGrant removes a role binding
func (h *GrantHandlers) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	membership, role, req, ok := h.resolveEdge(w, r)
	if !ok {
		return
	}

	if !authorize(w, r, h.decider, decision.Request{
		Subject:       subject,
		TenantID:      membership.TenantID,
		AppKey:        PortalAppKey,
		Permission:    catalog.PermRolesManage,
		StateChanging: true,
		Action:        audit.ActionGrantRevoke,
		Target:        &decision.Target{Type: audit.TargetGrant, ID: membership.ID + "/" + role.Key},
		Origin:        originOf(r),
	}) {
		return
	}

	if err := h.store.RevokeGrant(r.Context(), membership.ID, role.ID, scopeOf(req)); err != nil {
		if errors.Is(err, grants.ErrNotFound) {
			httputil.WriteNotFoundError(w, "grant not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// PlatformGrantRequest binds a user to a platform role
type PlatformGrantRequest struct {
	UserID  string `json:"user_id"`
	RoleKey string `json:"role_key"`
}

// CreatePlatformGrant binds a platform-scoped role directly to a user
func (h *GrantHandlers) CreatePlatformGrant(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	var req PlatformGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" || req.RoleKey == "" {
		httputil.WriteBadRequest(w, "user_id and role_key are required")
		return
	}

	role, err := h.roles.GetRoleByKey(r.Context(), req.RoleKey)
	if errors.Is(err, catalog.ErrNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if role.Scope != catalog.ScopePlatform {
		httputil.WriteBadRequest(w, "role is not platform-scoped")
		return
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:       subject,
		Permission:    catalog.PermRolesManage,
		StateChanging: true,
		Action:        audit.ActionPlatformGrantCreate,
		Target:        &decision.Target{Type: audit.TargetGrant, ID: req.UserID + "/" + role.Key},
		Origin:        originOf(r),
	}) {
		return
	}

	grant := &grants.PlatformGrant{
		UserID:    req.UserID,
		RoleID:    role.ID,
		GrantedBy: &subject.UserID,
	}
	if err := h.store.UpsertPlatformGrant(r.Context(), grant); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, grant)
}

// RevokePlatformGrant removes a platform role binding
func (h *GrantHandlers) RevokePlatformGrant(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	var req PlatformGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" || req.RoleKey == "" {
		httputil.WriteBadRequest(w, "user_id and role_key are required")
		return
	}

	role, err := h.roles.GetRoleByKey(r.Context(), req.RoleKey)
	if errors.Is(err, catalog.ErrNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:       subject,
		Permission:    catalog.PermRolesManage,
		StateChanging: true,
		Action:        audit.ActionPlatformGrantRevoke,
		Target:        &decision.Target{Type: audit.TargetGrant, ID: req.UserID + "/" + role.Key},
		Origin:        originOf(r),
	}) {
		return
	}

	if err := h.store.RevokePlatformGrant(r.Context(), req.UserID, role.ID); err != nil {
		if errors.Is(err, grants.ErrNotFound) {
			httputil.WriteNotFoundError(w, "grant not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
