package apps

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced app or tenant-app row is absent
var ErrNotFound = errors.New("apps: not found")

// AppStatus represents app lifecycle status
type AppStatus string

const (
	AppStatusActive     AppStatus = "active"
	AppStatusDeprecated AppStatus = "deprecated"
	AppStatusRetired    AppStatus = "retired"
)

// App is a registered application. Key is the stable external contract;
// the manifest declares the permission keys the app understands.
type App struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	BaseURL   string    `json:"base_url"`
	Status    AppStatus `json:"status"`
	Manifest  Manifest  `json:"manifest"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manifest declares what an app understands
type Manifest struct {
	Permissions []string `json:"permissions,omitempty"`
	Description string   `json:"description,omitempty"`
}

// DeclaresPermission reports whether the manifest lists the permission key
func (m Manifest) DeclaresPermission(key string) bool {
	for _, p := range m.Permissions {
		if p == key {
			return true
		}
	}
	return false
}

// TenantApp is the enablement row plus per-tenant configuration for a
// (tenant, app) pair. Enabled is the authoritative on/off switch,
// independent of any user's permissions.
type TenantApp struct {
	TenantID  string         `json:"tenant_id"`
	AppID     string         `json:"app_id"`
	Enabled   bool           `json:"enabled"`
	Config    map[string]any `json:"config,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Enablement is the gate's answer: whether the app is reachable for the
// tenant and, when it is, the per-tenant configuration.
type Enablement struct {
	Enabled bool           `json:"enabled"`
	Config  map[string]any `json:"config,omitempty"`
}
