package grants

import (
	"encoding/json"
	"time"
)

// AppScope says where a role grant applies: tenant-wide or to one app.
// The two cases are explicit so every call site handles both, instead of
// null-checking a foreign key.
type AppScope struct {
	appKey string
}

// TenantWide returns the scope covering every app in the tenant
func TenantWide() AppScope {
	return AppScope{}
}

// ScopedToApp returns the scope covering a single app
func ScopedToApp(appKey string) AppScope {
	return AppScope{appKey: appKey}
}

// AppKey returns the scoped app key and whether the scope is app-scoped
func (s AppScope) AppKey() (string, bool) {
	return s.appKey, s.appKey != ""
}

// Matches reports whether a grant with this scope applies to requests
// against the given app
func (s AppScope) Matches(appKey string) bool {
	return s.appKey == "" || s.appKey == appKey
}

// String implements fmt.Stringer
func (s AppScope) String() string {
	if s.appKey == "" {
		return "tenant-wide"
	}
	return "app:" + s.appKey
}

// MarshalJSON encodes tenant-wide scope as null and app scope as the key
func (s AppScope) MarshalJSON() ([]byte, error) {
	if s.appKey == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s.appKey)
}

// UnmarshalJSON decodes null as tenant-wide scope
func (s *AppScope) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = TenantWide()
		return nil
	}
	var key string
	if err := json.Unmarshal(data, &key); err != nil {
		return err
	}
	*s = ScopedToApp(key)
	return nil
}

// RoleGrant binds a membership to a role, optionally scoped to one app.
// This is the mutable authorization edge an admin changes; unique per
// (membership, role, app).
type RoleGrant struct {
	ID           string   `json:"id"`
	MembershipID string   `json:"membership_id"`
	RoleID       string   `json:"role_id"`
	Scope        AppScope `json:"app_scope"`
	GrantedBy    *string  `json:"granted_by,omitempty"`
	GrantedAt    time.Time `json:"granted_at"`
}

// PlatformGrant binds a user directly to a platform-scoped role,
// independent of any tenant membership
type PlatformGrant struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	GrantedBy *string   `json:"granted_by,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

// PermissionSet is the effective permission set for a subject in a
// tenant/app context. It has set semantics: unions collapse duplicates
// and are order-independent. The all sentinel satisfies every check and
// is only ever produced by a role with the grants-all capability.
type PermissionSet struct {
	all  bool
	keys map[string]struct{}
}

// NewPermissionSet builds a set from explicit keys
func NewPermissionSet(keys ...string) PermissionSet {
	set := PermissionSet{keys: make(map[string]struct{}, len(keys))}
	for _, key := range keys {
		set.keys[key] = struct{}{}
	}
	return set
}

// AllPermissions returns the sentinel set that satisfies every check
func AllPermissions() PermissionSet {
	return PermissionSet{all: true}
}

// Has reports whether the set contains the permission key
func (s PermissionSet) Has(key string) bool {
	if s.all {
		return true
	}
	_, ok := s.keys[key]
	return ok
}

// IsAll reports whether the set is the all-permissions sentinel
func (s PermissionSet) IsAll() bool {
	return s.all
}

// IsEmpty reports whether the set grants nothing
func (s PermissionSet) IsEmpty() bool {
	return !s.all && len(s.keys) == 0
}

// Len returns the number of explicit keys; 0 for the sentinel
func (s PermissionSet) Len() int {
	return len(s.keys)
}

// Add unions a key into the set in place
func (s *PermissionSet) Add(keys ...string) {
	if s.all {
		return
	}
	if s.keys == nil {
		s.keys = make(map[string]struct{}, len(keys))
	}
	for _, key := range keys {
		s.keys[key] = struct{}{}
	}
}

// Union merges another set into this one in place
func (s *PermissionSet) Union(other PermissionSet) {
	if other.all {
		s.all = true
		s.keys = nil
		return
	}
	if s.all {
		return
	}
	if s.keys == nil {
		s.keys = make(map[string]struct{}, len(other.keys))
	}
	for key := range other.keys {
		s.keys[key] = struct{}{}
	}
}

// Keys returns the explicit permission keys; nil for the sentinel
func (s PermissionSet) Keys() []string {
	if s.all {
		return nil
	}
	keys := make([]string, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}
	return keys
}
