package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mtaha-9646/schedules-covers/pkg/audit"
	"github.com/mtaha-9646/schedules-covers/pkg/catalog"
	"github.com/mtaha-9646/schedules-covers/pkg/decision"
	"github.com/mtaha-9646/schedules-covers/pkg/httputil"
)

// CatalogStore is the slice of catalog.Store the handlers use
type CatalogStore interface {
	ListRoles(ctx context.Context) ([]*catalog.Role, error)
	ListPermissions(ctx context.Context) ([]*catalog.Permission, error)
	GetRoleByKey(ctx context.Context, key string) (*catalog.Role, error)
	ListPermissionsForRole(ctx context.Context, roleID string) ([]string, error)
	CreateRole(ctx context.Context, role *catalog.Role) error
	CreatePermission(ctx context.Context, p *catalog.Permission) error
	BindPermission(ctx context.Context, roleID, permissionKey string) error
	UnbindPermission(ctx context.Context, roleID, permissionKey string) error
}

// CatalogHandlers handles the role/permission catalog. The catalog is
// read-mostly; mutating it is itself gated through the decision
// service, so changing who can change things leaves a trail.
type CatalogHandlers struct {
	store   CatalogStore
	decider Decider
}

// NewCatalogHandlers creates the catalog handlers
func NewCatalogHandlers(store CatalogStore, decider Decider) *CatalogHandlers {
	return &CatalogHandlers{store: store, decider: decider}
}

// RegisterRoutes registers catalog routes
func (h *CatalogHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/roles/{key}/permissions", h.ListRolePermissions).Methods("GET")
	router.HandleFunc("/roles/{key}/permissions", h.BindPermission).Methods("POST")
	router.HandleFunc("/roles/{key}/permissions/{permission}", h.UnbindPermission).Methods("DELETE")

	router.HandleFunc("/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/permissions", h.CreatePermission).Methods("POST")
}

// ListRoles lists the role catalog
func (h *CatalogHandlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	if _, ok := subjectOf(w, r); !ok {
		return
	}

	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, roles)
}

// ListPermissions lists the permission catalog
func (h *CatalogHandlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	if _, ok := subjectOf(w, r); !ok {
		return
	}

	permissions, err := h.store.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, permissions)
}

// ListRolePermissions lists the permission keys bound to a role
func (h *CatalogHandlers) ListRolePermissions(w http.ResponseWriter, r *http.Request) {
	if _, ok := subjectOf(w, r); !ok {
		return
	}
	key, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}

	role, err := h.store.GetRoleByKey(r.Context(), key)
	if errors.Is(err, catalog.ErrNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	keys, err := h.store.ListPermissionsForRole(r.Context(), role.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]any{"role": role.Key, "permissions": keys})
}

// CreateRoleRequest adds a role to the catalog. GrantsAll is accepted
// here deliberately so the override is declared data, but creating
// such a role takes the same platform permission as any other.
type CreateRoleRequest struct {
	Key         string            `json:"key"`
	DisplayName string            `json:"display_name"`
	Description string            `json:"description,omitempty"`
	Scope       catalog.RoleScope `json:"scope"`
	GrantsAll   bool              `json:"grants_all,omitempty"`
}

// CreateRole adds a role, platform-scoped
func (h *CatalogHandlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	var req CreateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Key == "" || req.DisplayName == "" {
		httputil.WriteBadRequest(w, "key and display_name are required")
		return
	}
	switch req.Scope {
	case catalog.ScopePlatform, catalog.ScopeTenant, catalog.ScopeApp:
	default:
		httputil.WriteBadRequest(w, "invalid role scope")
		return
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:       subject,
		Permission:    catalog.PermRolesManage,
		StateChanging: true,
		Action:        audit.ActionRoleCreate,
		Target:        &decision.Target{Type: audit.TargetRole, ID: req.Key},
		Origin:        originOf(r),
	}) {
		return
	}

	role := &catalog.Role{
		Key:         req.Key,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Scope:       req.Scope,
		GrantsAll:   req.GrantsAll,
	}
	if err := h.store.CreateRole(r.Context(), role); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, role)
}

// CreatePermission adds a permission key, platform-scoped. Keys are a
// published contract and are never reused for a different meaning.
func (h *CatalogHandlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	var req catalog.Permission
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Key == "" {
		httputil.WriteBadRequest(w, "key is required")
		return
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:       subject,
		Permission:    catalog.PermRolesManage,
		StateChanging: true,
		Action:        audit.ActionPermissionCreate,
		Target:        &decision.Target{Type: audit.TargetPermission, ID: req.Key},
		Origin:        originOf(r),
	}) {
		return
	}

	if err := h.store.CreatePermission(r.Context(), &req); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, req)
}

// BindPermission adds a permission to a role
func (h *CatalogHandlers) BindPermission(w http.ResponseWriter, r *http.Request) {
	h.changeBinding(w, r, true)
}

// UnbindPermission removes a permission from a role
func (h *CatalogHandlers) UnbindPermission(w http.ResponseWriter, r *http.Request) {
	h.changeBinding(w, r, false)
}

func (h *CatalogHandlers) changeBinding(w http.ResponseWriter, r *http.Request, bind bool) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	key, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}

	var permissionKey string
	if bind {
		var req struct {
			Permission string `json:"permission"`
		}
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
		permissionKey = req.Permission
	} else {
		permissionKey, ok = httputil.ParsePathStringOrError(w, r, "permission")
		if !ok {
			return
		}
	}
	if permissionKey == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}

	role, err := h.store.GetRoleByKey(r.Context(), key)
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
		Action:        audit.ActionRoleBindChange,
		Target:        &decision.Target{Type: audit.TargetRole, ID: role.Key + "/" + permissionKey},
		Origin:        originOf(r),
	}) {
		return
	}

	if bind {
		err = h.store.BindPermission(r.Context(), role.ID, permissionKey)
	} else {
		err = h.store.UnbindPermission(r.Context(), role.ID, permissionKey)
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if bind {
		httputil.WriteSuccess(w, map[string]any{"role": role.Key, "permission": permissionKey, "bound": true})
		return
	}
	httputil.WriteNoContent(w)
}
