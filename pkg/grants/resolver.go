package grants

import (
	"context"
	"errors"
	"fmt"

	"github.com/mtaha-9646/schedules-covers/pkg/catalog"
	"github.com/mtaha-9646/schedules-covers/pkg/identity"
)

// TenantSource supplies tenant lookups, implemented by identity.Store
type TenantSource interface {
	GetTenant(ctx context.Context, tenantID string) (*identity.Tenant, error)
}

// MembershipSource supplies membership lookups, implemented by identity.Store
type MembershipSource interface {
	GetMembership(ctx context.Context, tenantID, userID string) (*identity.Membership, error)
}

// RoleCatalog supplies role lookups and expansion, implemented by catalog.Store
type RoleCatalog interface {
	GetRole(ctx context.Context, roleID string) (*catalog.Role, error)
	ExpandRoles(ctx context.Context, roleIDs []string) (map[string][]string, error)
}

// GrantSource supplies the grant edges, implemented by Store
type GrantSource interface {
	ListGrantsForApp(ctx context.Context, membershipID, appKey string) ([]*RoleGrant, error)
	ListPlatformRoleIDs(ctx context.Context, userID string) ([]string, error)
}

// AppSource verifies an app key exists, implemented by apps.Store
type AppSource interface {
	AppExists(ctx context.Context, appKey string) error
}

// Resolver computes the effective permission set for (user, tenant, app)
type Resolver struct {
	tenants     TenantSource
	memberships MembershipSource
	roles       RoleCatalog
	grants      GrantSource
	apps        AppSource
}

// NewResolver creates a new grant resolver
func NewResolver(tenants TenantSource, memberships MembershipSource, roles RoleCatalog, grants GrantSource, apps AppSource) *Resolver {
	return &Resolver{
		tenants:     tenants,
		memberships: memberships,
		roles:       roles,
		grants:      grants,
		apps:        apps,
	}
}

// EffectivePermissions computes the union of permission keys derivable
// from the subject's grants in the given tenant/app context.
//
// An absent or non-active membership yields the empty set, never an
// error: "no permissions" is a valid answer. An unknown tenant or app
// key is an error.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID, tenantID, appKey string) (PermissionSet, error) {
	if _, err := r.tenants.GetTenant(ctx, tenantID); err != nil {
		return PermissionSet{}, fmt.Errorf("resolve tenant: %w", err)
	}
	if err := r.apps.AppExists(ctx, appKey); err != nil {
		return PermissionSet{}, fmt.Errorf("resolve app: %w", err)
	}

	membership, err := r.memberships.GetMembership(ctx, tenantID, userID)
	if errors.Is(err, identity.ErrNotFound) {
		return NewPermissionSet(), nil
	}
	if err != nil {
		return PermissionSet{}, fmt.Errorf("resolve membership: %w", err)
	}
	if membership.Status != identity.MembershipStatusActive {
		return NewPermissionSet(), nil
	}

	roleGrants, err := r.grants.ListGrantsForApp(ctx, membership.ID, appKey)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("list grants: %w", err)
	}

	// Duplicate grants of the same role (tenant-wide and per-app) collapse
	// into one expansion.
	roleIDs := make(map[string]struct{}, len(roleGrants))
	for _, grant := range roleGrants {
		roleIDs[grant.RoleID] = struct{}{}
	}

	platformRoleIDs, err := r.grants.ListPlatformRoleIDs(ctx, userID)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("list platform grants: %w", err)
	}
	for _, roleID := range platformRoleIDs {
		roleIDs[roleID] = struct{}{}
	}

	distinct := make([]string, 0, len(roleIDs))
	for roleID := range roleIDs {
		role, err := r.roles.GetRole(ctx, roleID)
		if errors.Is(err, catalog.ErrNotFound) {
			// A grant referencing a role removed from the catalog grants
			// nothing; fail-closed, not fail-loud.
			continue
		}
		if err != nil {
			return PermissionSet{}, fmt.Errorf("resolve role %s: %w", roleID, err)
		}
		if role.GrantsAll {
			return AllPermissions(), nil
		}
		distinct = append(distinct, roleID)
	}

	expanded, err := r.roles.ExpandRoles(ctx, distinct)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("expand roles: %w", err)
	}

	set := NewPermissionSet()
	for _, keys := range expanded {
		set.Add(keys...)
	}
	return set, nil
}

// EffectivePlatformPermissions computes the permission set a user holds
// from platform-scoped grants alone, with no tenant context. Used for
// platform administration such as creating tenants or mutating the
// role catalog.
func (r *Resolver) EffectivePlatformPermissions(ctx context.Context, userID string) (PermissionSet, error) {
	roleIDs, err := r.grants.ListPlatformRoleIDs(ctx, userID)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("list platform grants: %w", err)
	}

	distinct := make([]string, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		role, err := r.roles.GetRole(ctx, roleID)
		if errors.Is(err, catalog.ErrNotFound) {
			continue
		}
		if err != nil {
			return PermissionSet{}, fmt.Errorf("resolve role %s: %w", roleID, err)
		}
		if role.GrantsAll {
			return AllPermissions(), nil
		}
		distinct = append(distinct, roleID)
	}

	expanded, err := r.roles.ExpandRoles(ctx, distinct)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("expand roles: %w", err)
	}

	set := NewPermissionSet()
	for _, keys := range expanded {
		set.Add(keys...)
	}
	return set, nil
}
