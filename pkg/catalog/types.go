package catalog

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced role or permission is absent
// from the catalog
var ErrNotFound = errors.New("catalog: not found")

// RoleScope represents the scope at which a role applies
type RoleScope string

const (
	ScopePlatform RoleScope = "platform" // Platform-wide
	ScopeTenant   RoleScope = "tenant"   // Tenant-wide
	ScopeApp      RoleScope = "app"      // Specific app within a tenant
)

// Role is a named entry in the fixed role catalog. GrantsAll is the only
// mechanism for the all-permissions override: the resolver never infers
// it from the role key.
type Role struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Scope       RoleScope `json:"scope"`
	GrantsAll   bool      `json:"grants_all"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a unique string key plus description. Keys are the stable
// external contract and are never reused for a different meaning once
// published.
type Permission struct {
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Built-in role keys
const (
	RolePlatformSuperAdmin = "platform_super_admin"
	RolePlatformSupport    = "platform_support"
	RoleTenantAdmin        = "tenant_admin"
	RoleTenantStaff        = "tenant_staff"
	RoleAppAdmin           = "app_admin"
	RoleAppEditor          = "app_editor"
	RoleAppViewer          = "app_viewer"
)

// Well-known permission keys
const (
	PermTenantsManage  = "portal.tenants.manage"
	PermUsersManage    = "portal.users.manage"
	PermAppsManage     = "portal.apps.manage"
	PermRolesManage    = "portal.roles.manage"
	PermFlagsManage    = "portal.flags.manage"
	PermAuditRead      = "portal.audit.read"
	PermSchedulesRead  = "schedules.entries.read"
	PermSchedulesWrite = "schedules.entries.write"
	PermCoversAssign   = "covers.assignments.manage"
	PermBehaviorRead   = "behavior.incidents.read"
	PermBehaviorWrite  = "behavior.incidents.write"
)

// SeedRole pairs a built-in role with its permission bindings
type SeedRole struct {
	Role        Role
	Permissions []string
}

// BuiltInRoles returns the seed catalog. The platform_super_admin override
// is declared through GrantsAll rather than matched by key.
func BuiltInRoles() []SeedRole {
	return []SeedRole{
		{
			Role: Role{
				Key:         RolePlatformSuperAdmin,
				DisplayName: "Platform Super Admin",
				Description: "Full access to every tenant and app",
				Scope:       ScopePlatform,
				GrantsAll:   true,
			},
		},
		{
			Role: Role{
				Key:         RolePlatformSupport,
				DisplayName: "Platform Support",
				Description: "Read access to tenants and audit trails",
				Scope:       ScopePlatform,
			},
			Permissions: []string{PermAuditRead},
		},
		{
			Role: Role{
				Key:         RoleTenantAdmin,
				DisplayName: "Tenant Admin",
				Description: "Manages users, apps, and settings for one tenant",
				Scope:       ScopeTenant,
			},
			Permissions: []string{
				PermUsersManage,
				PermAppsManage,
				PermRolesManage,
				PermAuditRead,
				PermSchedulesRead,
				PermSchedulesWrite,
				PermCoversAssign,
				PermBehaviorRead,
				PermBehaviorWrite,
			},
		},
		{
			Role: Role{
				Key:         RoleTenantStaff,
				DisplayName: "Tenant Staff",
				Description: "Day-to-day access within one tenant",
				Scope:       ScopeTenant,
			},
			Permissions: []string{PermSchedulesRead, PermBehaviorRead},
		},
		{
			Role: Role{
				Key:         RoleAppAdmin,
				DisplayName: "App Admin",
				Description: "Full access within one app",
				Scope:       ScopeApp,
			},
			Permissions: []string{
				PermSchedulesRead,
				PermSchedulesWrite,
				PermCoversAssign,
				PermBehaviorRead,
				PermBehaviorWrite,
			},
		},
		{
			Role: Role{
				Key:         RoleAppEditor,
				DisplayName: "App Editor",
				Description: "Can record and change entries within one app",
				Scope:       ScopeApp,
			},
			Permissions: []string{
				PermSchedulesRead,
				PermSchedulesWrite,
				PermBehaviorRead,
				PermBehaviorWrite,
			},
		},
		{
			Role: Role{
				Key:         RoleAppViewer,
				DisplayName: "App Viewer",
				Description: "Read-only access within one app",
				Scope:       ScopeApp,
			},
			Permissions: []string{PermSchedulesRead, PermBehaviorRead},
		},
	}
}

// BuiltInPermissions returns the seed permission vocabulary
func BuiltInPermissions() []Permission {
	return []Permission{
		{Key: PermTenantsManage, Description: "Create, suspend, and configure tenants"},
		{Key: PermUsersManage, Description: "Invite, offboard, and manage tenant users"},
		{Key: PermAppsManage, Description: "Enable and configure apps for a tenant"},
		{Key: PermRolesManage, Description: "Grant and revoke roles"},
		{Key: PermFlagsManage, Description: "Manage feature flags"},
		{Key: PermAuditRead, Description: "Read the audit trail"},
		{Key: PermSchedulesRead, Description: "Read schedule entries"},
		{Key: PermSchedulesWrite, Description: "Change schedule entries"},
		{Key: PermCoversAssign, Description: "Manage cover assignments"},
		{Key: PermBehaviorRead, Description: "Read behavior incidents"},
		{Key: PermBehaviorWrite, Description: "Record behavior incidents"},
	}
}
