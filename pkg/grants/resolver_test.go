package grants

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtaha-9646/schedules-covers/pkg/catalog"
	"github.com/mtaha-9646/schedules-covers/pkg/identity"
)

type fakeStores struct {
	tenants     map[string]*identity.Tenant
	memberships map[string]*identity.Membership // keyed tenantID/userID
	roles       map[string]*catalog.Role
	expansions  map[string][]string
	grants      map[string][]*RoleGrant // keyed membershipID
	platform    map[string][]string     // keyed userID
	apps        map[string]bool

	failMemberships bool
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		tenants:     make(map[string]*identity.Tenant),
		memberships: make(map[string]*identity.Membership),
		roles:       make(map[string]*catalog.Role),
		expansions:  make(map[string][]string),
		grants:      make(map[string][]*RoleGrant),
		platform:    make(map[string][]string),
		apps:        make(map[string]bool),
	}
}

func (f *fakeStores) GetTenant(_ context.Context, tenantID string) (*identity.Tenant, error) {
	tenant, ok := f.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, identity.ErrNotFound)
	}
	return tenant, nil
}

func (f *fakeStores) GetMembership(_ context.Context, tenantID, userID string) (*identity.Membership, error) {
	if f.failMemberships {
		return nil, errors.New("connection refused")
	}
	m, ok := f.memberships[tenantID+"/"+userID]
	if !ok {
		return nil, fmt.Errorf("membership: %w", identity.ErrNotFound)
	}
	return m, nil
}

func (f *fakeStores) GetRole(_ context.Context, roleID string) (*catalog.Role, error) {
	role, ok := f.roles[roleID]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", roleID, catalog.ErrNotFound)
	}
	return role, nil
}

func (f *fakeStores) ExpandRoles(_ context.Context, roleIDs []string) (map[string][]string, error) {
	expanded := make(map[string][]string, len(roleIDs))
	for _, id := range roleIDs {
		expanded[id] = f.expansions[id]
	}
	return expanded, nil
}

func (f *fakeStores) ListGrantsForApp(_ context.Context, membershipID, appKey string) ([]*RoleGrant, error) {
	var matched []*RoleGrant
	for _, grant := range f.grants[membershipID] {
		if grant.Scope.Matches(appKey) {
			matched = append(matched, grant)
		}
	}
	return matched, nil
}

func (f *fakeStores) ListPlatformRoleIDs(_ context.Context, userID string) ([]string, error) {
	return f.platform[userID], nil
}

func (f *fakeStores) AppExists(_ context.Context, appKey string) error {
	if !f.apps[appKey] {
		return fmt.Errorf("app %s: %w", appKey, catalog.ErrNotFound)
	}
	return nil
}

func setupResolver(t *testing.T) (*Resolver, *fakeStores) {
	t.Helper()
	f := newFakeStores()
	f.tenants["t-acme"] = &identity.Tenant{ID: "t-acme", Slug: "acme", Status: identity.TenantStatusActive}
	f.apps["behavior"] = true
	f.apps["schedules"] = true
	return NewResolver(f, f, f, f, f), f
}

func TestResolver_TenantWideRole(t *testing.T) {
	resolver, f := setupResolver(t)

	f.memberships["t-acme/u-jane"] = &identity.Membership{ID: "m-1", Status: identity.MembershipStatusActive}
	f.roles["r-admin"] = &catalog.Role{ID: "r-admin", Key: catalog.RoleTenantAdmin, Scope: catalog.ScopeTenant}
	f.expansions["r-admin"] = []string{catalog.PermUsersManage, catalog.PermSchedulesRead}
	f.grants["m-1"] = []*RoleGrant{{MembershipID: "m-1", RoleID: "r-admin", Scope: TenantWide()}}

	set, err := resolver.EffectivePermissions(context.Background(), "u-jane", "t-acme", "behavior")
	require.NoError(t, err)
	assert.True(t, set.Has(catalog.PermUsersManage))
	assert.True(t, set.Has(catalog.PermSchedulesRead))
	assert.False(t, set.Has(catalog.PermFlagsManage))
}

func TestResolver_DuplicateGrantsCollapse(t *testing.T) {
	resolver, f := setupResolver(t)

	f.memberships["t-acme/u-jane"] = &identity.Membership{ID: "m-1", Status: identity.MembershipStatusActive}
	f.roles["r-editor"] = &catalog.Role{ID: "r-editor", Key: catalog.RoleAppEditor, Scope: catalog.ScopeApp}
	f.expansions["r-editor"] = []string{catalog.PermBehaviorWrite, catalog.PermBehaviorRead}

	// Same role granted twice: once tenant-wide, once scoped to the app.
	f.grants["m-1"] = []*RoleGrant{
		{MembershipID: "m-1", RoleID: "r-editor", Scope: TenantWide()},
		{MembershipID: "m-1", RoleID: "r-editor", Scope: ScopedToApp("behavior")},
	}

	set, err := resolver.EffectivePermissions(context.Background(), "u-jane", "t-acme", "behavior")
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len(), "effective set is a mathematical set, no multiplicity")
	assert.True(t, set.Has(catalog.PermBehaviorWrite))
}

func TestResolver_AppScopedGrantExcludedForOtherApp(t *testing.T) {
	resolver, f := setupResolver(t)

	f.memberships["t-acme/u-jane"] = &identity.Membership{ID: "m-1", Status: identity.MembershipStatusActive}
	f.roles["r-editor"] = &catalog.Role{ID: "r-editor", Key: catalog.RoleAppEditor}
	f.expansions["r-editor"] = []string{catalog.PermBehaviorWrite}
	f.grants["m-1"] = []*RoleGrant{{MembershipID: "m-1", RoleID: "r-editor", Scope: ScopedToApp("behavior")}}

	set, err := resolver.EffectivePermissions(context.Background(), "u-jane", "t-acme", "schedules")
	require.NoError(t, err)
	assert.True(t, set.IsEmpty())
}

func TestResolver_NoMembershipYieldsEmptySet(t *testing.T) {
	resolver, _ := setupResolver(t)

	set, err := resolver.EffectivePermissions(context.Background(), "u-bob", "t-acme", "behavior")
	require.NoError(t, err, "no membership is not an error, it is the empty set")
	assert.True(t, set.IsEmpty())
}

func TestResolver_InactiveMembershipYieldsEmptySet(t *testing.T) {
	resolver, f := setupResolver(t)

	f.memberships["t-acme/u-jane"] = &identity.Membership{ID: "m-1", Status: identity.MembershipStatusOffboarded}
	f.roles["r-admin"] = &catalog.Role{ID: "r-admin"}
	f.expansions["r-admin"] = []string{catalog.PermUsersManage}
	f.grants["m-1"] = []*RoleGrant{{MembershipID: "m-1", RoleID: "r-admin", Scope: TenantWide()}}

	set, err := resolver.EffectivePermissions(context.Background(), "u-jane", "t-acme", "behavior")
	require.NoError(t, err)
	assert.True(t, set.IsEmpty())
}

func TestResolver_GrantsAllSentinel(t *testing.T) {
	resolver, f := setupResolver(t)

	f.memberships["t-acme/u-root"] = &identity.Membership{ID: "m-root", Status: identity.MembershipStatusActive}
	f.roles["r-super"] = &catalog.Role{ID: "r-super", Key: catalog.RolePlatformSuperAdmin, Scope: catalog.ScopePlatform, GrantsAll: true}
	f.platform["u-root"] = []string{"r-super"}

	set, err := resolver.EffectivePermissions(context.Background(), "u-root", "t-acme", "behavior")
	require.NoError(t, err)
	assert.True(t, set.IsAll())
	assert.True(t, set.Has("any.permission.at.all"))
}

func TestResolver_GrantsAllIsCapabilityNotName(t *testing.T) {
	resolver, f := setupResolver(t)

	// A role named like the super admin but without the capability flag
	// grants only its explicit bindings.
	f.memberships["t-acme/u-imposter"] = &identity.Membership{ID: "m-i", Status: identity.MembershipStatusActive}
	f.roles["r-fake"] = &catalog.Role{ID: "r-fake", Key: catalog.RolePlatformSuperAdmin, GrantsAll: false}
	f.expansions["r-fake"] = []string{catalog.PermAuditRead}
	f.platform["u-imposter"] = []string{"r-fake"}

	set, err := resolver.EffectivePermissions(context.Background(), "u-imposter", "t-acme", "behavior")
	require.NoError(t, err)
	assert.False(t, set.IsAll())
	assert.True(t, set.Has(catalog.PermAuditRead))
	assert.False(t, set.Has(catalog.PermTenantsManage))
}

func TestResolver_UnknownTenant(t *testing.T) {
	resolver, _ := setupResolver(t)

	_, err := resolver.EffectivePermissions(context.Background(), "u-jane", "t-ghost", "behavior")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestResolver_UnknownApp(t *testing.T) {
	resolver, _ := setupResolver(t)

	_, err := resolver.EffectivePermissions(context.Background(), "u-jane", "t-acme", "ghost-app")
	assert.Error(t, err)
}

func TestResolver_StoreErrorPropagates(t *testing.T) {
	resolver, f := setupResolver(t)
	f.failMemberships = true

	_, err := resolver.EffectivePermissions(context.Background(), "u-jane", "t-acme", "behavior")
	require.Error(t, err)
	assert.NotErrorIs(t, err, identity.ErrNotFound)
}

func TestPermissionSet_UnionIsIdempotent(t *testing.T) {
	a := NewPermissionSet("x", "y")
	b := NewPermissionSet("y", "z")

	a.Union(b)
	a.Union(b)

	assert.Equal(t, 3, a.Len())
	assert.ElementsMatch(t, []string{"x", "y", "z"}, a.Keys())
}

func TestPermissionSet_AllAbsorbsUnion(t *testing.T) {
	all := AllPermissions()
	all.Union(NewPermissionSet("x"))
	assert.True(t, all.IsAll())

	set := NewPermissionSet("x")
	set.Union(AllPermissions())
	assert.True(t, set.IsAll())
	assert.False(t, set.IsEmpty())
}

func TestAppScope_JSONRoundTrip(t *testing.T) {
	cases := []struct {
		scope AppScope
		json  string
	}{
		{TenantWide(), "null"},
		{ScopedToApp("behavior"), `"behavior"`},
	}

	for _, tc := range cases {
		data, err := tc.scope.MarshalJSON()
		require.NoError(t, err)
		assert.Equal(t, tc.json, string(data))

		var decoded AppScope
		require.NoError(t, decoded.UnmarshalJSON(data))
		assert.Equal(t, tc.scope, decoded)
	}
}
