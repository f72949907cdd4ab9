package decision

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtaha-9646/schedules-covers/pkg/apps"
	"github.com/mtaha-9646/schedules-covers/pkg/audit"
	"github.com/mtaha-9646/schedules-covers/pkg/flags"
	"github.com/mtaha-9646/schedules-covers/pkg/grants"
	"github.com/mtaha-9646/schedules-covers/pkg/identity"
)

type fakeTenants struct {
	tenants map[string]*identity.Tenant
	err     error
}

func (f *fakeTenants) GetTenant(_ context.Context, tenantID string) (*identity.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tenants[tenantID]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return t, nil
}

type fakeGate struct {
	enabled map[string]apps.Enablement
	err     error
}

func (f *fakeGate) IsAppEnabled(_ context.Context, tenantID, appKey string) (apps.Enablement, error) {
	if f.err != nil {
		return apps.Enablement{}, f.err
	}
	return f.enabled[tenantID+"/"+appKey], nil
}

type fakeResolver struct {
	sets     map[string]grants.PermissionSet
	platform map[string]grants.PermissionSet
	err      error
}

func (f *fakeResolver) EffectivePermissions(_ context.Context, userID, tenantID, appKey string) (grants.PermissionSet, error) {
	if f.err != nil {
		return grants.PermissionSet{}, f.err
	}
	set, ok := f.sets[userID+"/"+tenantID+"/"+appKey]
	if !ok {
		return grants.NewPermissionSet(), nil
	}
	return set, nil
}

func (f *fakeResolver) EffectivePlatformPermissions(_ context.Context, userID string) (grants.PermissionSet, error) {
	if f.err != nil {
		return grants.PermissionSet{}, f.err
	}
	set, ok := f.platform[userID]
	if !ok {
		return grants.NewPermissionSet(), nil
	}
	return set, nil
}

type fakeRecorder struct {
	entries []*audit.Entry
	err     error
}

func (f *fakeRecorder) Append(_ context.Context, entry *audit.Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeFlags struct {
	values map[string]bool
	errKey string
}

func (f *fakeFlags) IsEnabled(_ context.Context, flagKey string, _ flags.EvalContext) (bool, error) {
	if flagKey == f.errKey {
		return false, errors.New("flag source down")
	}
	return f.values[flagKey], nil
}

type fixture struct {
	tenants  *fakeTenants
	gate     *fakeGate
	resolver *fakeResolver
	recorder *fakeRecorder
	flags    *fakeFlags
	service  *Service
}

func permSet(keys ...string) grants.PermissionSet {
	set := grants.NewPermissionSet()
	set.Add(keys...)
	return set
}

// newFixture wires the scenario from the portal's own docs: tenant
// acme is active, app behavior is enabled for acme, and jane holds a
// tenant-wide role granting portal.users.manage.
func newFixture() *fixture {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		tenants: &fakeTenants{tenants: map[string]*identity.Tenant{
			"acme": {ID: "acme", Slug: "acme", Status: identity.TenantStatusActive},
		}},
		gate: &fakeGate{enabled: map[string]apps.Enablement{
			"acme/behavior": {Enabled: true},
		}},
		resolver: &fakeResolver{
			sets: map[string]grants.PermissionSet{
				"jane/acme/behavior": permSet("portal.users.manage", "behavior.read"),
			},
			platform: map[string]grants.PermissionSet{},
		},
		recorder: &fakeRecorder{},
		flags:    &fakeFlags{values: map[string]bool{}},
	}

	f.service = NewService(f.tenants, f.gate, f.resolver, f.flags, f.recorder,
		NewMetrics(prometheus.NewRegistry()), logger)
	return f
}

func TestDecide_Allow(t *testing.T) {
	f := newFixture()

	d := f.service.Decide(context.Background(), Request{
		Subject:    Subject{UserID: "jane", Email: "jane@acme.example"},
		TenantID:   "acme",
		AppKey:     "behavior",
		Permission: "portal.users.manage",
	})

	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
	// read-only request: no trail
	assert.Empty(t, f.recorder.entries)
}

func TestDecide_TenantInactiveBeatsEveryGrant(t *testing.T) {
	// even a subject whose effective set is "everything" is denied the
	// moment the tenant is suspended
	f := newFixture()
	f.tenants.tenants["acme"].Status = identity.TenantStatusSuspended
	f.resolver.sets["jane/acme/behavior"] = grants.AllPermissions()

	d := f.service.Decide(context.Background(), Request{
		Subject:    Subject{UserID: "jane"},
		TenantID:   "acme",
		AppKey:     "behavior",
		Permission: "portal.users.manage",
	})

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonTenantInactive, d.Reason)
}

func TestDecide_UnknownTenant(t *testing.T) {
	f := newFixture()

	d := f.service.Decide(context.Background(), Request{
		Subject:    Subject{UserID: "jane"},
		TenantID:   "ghost",
		AppKey:     "behavior",
		Permission: "portal.users.manage",
	})

	assert.Equal(t, ReasonTenantInactive, d.Reason)
}

func TestDecide_AppDisabledBeatsEveryGrant(t *testing.T) {
	f := newFixture()
	f.gate.enabled["acme/behavior"] = apps.Enablement{Enabled: false}
	f.resolver.sets["jane/acme/behavior"] = grants.AllPermissions()

	d := f.service.Decide(context.Background(), Request{
		Subject:    Subject{UserID: "jane"},
		TenantID:   "acme",
		AppKey:     "behavior",
		Permission: "portal.users.manage",
	})

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonAppDisabled, d.Reason)
}

func TestDecide_UnknownAppDeniesAppDisabled(t *testing.T) {
	f := newFixture()
	f.gate.err = apps.ErrNotFound

	d := f.service.Decide(context.Background(), Request{
		Subject:    Subject{UserID: "jane"},
		TenantID:   "acme",
		AppKey:     "nope",
		Permission: "portal.users.manage",
	})

	assert.Equal(t, ReasonAppDisabled, d.Reason)
}

func TestDecide_NoMembershipIsInsufficientNotNotFound(t *testing.T) {
	// bob has no membership in acme: the resolver answers with the
	// empty set and the decision is a plain permission deny
	f := newFixture()

	d := f.service.Decide(context.Background(), Request{
		Subject:    Subject{UserID: "bob"},
		TenantID:   "acme",
		AppKey:     "behavior",
		Permission: "portal.users.manage",
	})

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonInsufficientPermission, d.Reason)
}

func TestDecide_StoreErrorFailsClosed(t *testing.T) {
	f := newFixture()
	f.resolver.err = errors.New("connection refused")

	d := f.service.Decide(context.Background(), Request{
		Subject:    Subject{UserID: "jane"},
		TenantID:   "acme",
		AppKey:     "behavior",
		Permission: "portal.users.manage",
	})

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonStoreUnavailable, d.Reason)
}

func TestDecide_StateChangingAppendsExactlyOneEntry(t *testing.T) {
	f := newFixture()

	d := f.service.Decide(context.Background(), Request{
		Subject:       Subject{UserID: "jane", Email: "jane@acme.example"},
		TenantID:      "acme",
		AppKey:        "behavior",
		Permission:    "portal.users.manage",
		StateChanging: true,
		Action:        audit.ActionMembershipUpsert,
		Target:        &Target{Type: audit.TargetMembership, ID: "m-1"},
		Origin:        audit.Origin{RequestID: "req-1"},
	})

	require.True(t, d.Allowed)
	require.Len(t, f.recorder.entries, 1)

	entry := f.recorder.entries[0]
	assert.Equal(t, "jane", entry.ActorID)
	assert.Equal(t, "acme", entry.TenantID)
	assert.Equal(t, audit.ActionMembershipUpsert, entry.Action)
	assert.Equal(t, "m-1", entry.TargetID)
	assert.Equal(t, "req-1", entry.Origin.RequestID)
}

func TestDecide_DeniedStateChangingWritesNoEntry(t *testing.T) {
	f := newFixture()

	d := f.service.Decide(context.Background(), Request{
		Subject:       Subject{UserID: "bob"},
		TenantID:      "acme",
		AppKey:        "behavior",
		Permission:    "portal.users.manage",
		StateChanging: true,
	})

	assert.False(t, d.Allowed)
	assert.Empty(t, f.recorder.entries)
}

func TestDecide_AuditAppendFailureDenies(t *testing.T) {
	// an allow that cannot be audited is not an allow
	f := newFixture()
	f.recorder.err = errors.New("audit store down")

	d := f.service.Decide(context.Background(), Request{
		Subject:       Subject{UserID: "jane"},
		TenantID:      "acme",
		AppKey:        "behavior",
		Permission:    "portal.users.manage",
		StateChanging: true,
	})

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonStoreUnavailable, d.Reason)
}

func TestDecide_FlagsRideAlong(t *testing.T) {
	f := newFixture()
	f.flags.values["covers.smart_fill"] = true
	f.flags.errKey = "schedules.beta"

	d := f.service.Decide(context.Background(), Request{
		Subject:    Subject{UserID: "jane"},
		TenantID:   "acme",
		AppKey:     "behavior",
		Permission: "portal.users.manage",
		FlagKeys:   []string{"covers.smart_fill", "schedules.beta"},
	})

	require.True(t, d.Allowed)
	assert.True(t, d.Flags["covers.smart_fill"])
	// unevaluable flag is off, not an error
	assert.False(t, d.Flags["schedules.beta"])
}

func TestDecide_MissingSubjectDenies(t *testing.T) {
	f := newFixture()

	d := f.service.Decide(context.Background(), Request{
		TenantID:   "acme",
		AppKey:     "behavior",
		Permission: "portal.users.manage",
	})

	assert.Equal(t, ReasonInsufficientPermission, d.Reason)
}

func TestDecidePlatform_Allow(t *testing.T) {
	f := newFixture()
	f.resolver.platform["root"] = grants.AllPermissions()

	d := f.service.DecidePlatform(context.Background(), Request{
		Subject:       Subject{UserID: "root"},
		Permission:    "portal.tenants.manage",
		StateChanging: true,
		Action:        audit.ActionTenantCreate,
	})

	require.True(t, d.Allowed)
	require.Len(t, f.recorder.entries, 1)
	assert.Equal(t, audit.ActionTenantCreate, f.recorder.entries[0].Action)
	assert.Empty(t, f.recorder.entries[0].TenantID)
}

func TestDecidePlatform_TenantRolesDoNotCount(t *testing.T) {
	// jane's tenant-scoped grants give her nothing at platform scope
	f := newFixture()

	d := f.service.DecidePlatform(context.Background(), Request{
		Subject:    Subject{UserID: "jane"},
		Permission: "portal.tenants.manage",
	})

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonInsufficientPermission, d.Reason)
}
