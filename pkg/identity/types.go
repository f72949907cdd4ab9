package identity

import (
	"errors"
	"time"
)

// Common store errors
var (
	// ErrNotFound is returned when a referenced tenant, user, or
	// membership does not exist
	ErrNotFound = errors.New("identity: not found")

	// ErrConflict is returned when a uniqueness constraint is violated
	// with mismatched non-key fields
	ErrConflict = errors.New("identity: conflict")
)

// TenantStatus represents tenant lifecycle status
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusDeleted   TenantStatus = "deleted"
)

// UserStatus represents user lifecycle status. Users are never hard-deleted,
// only status-transitioned, so audit entries keep valid actor references.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInvited  UserStatus = "invited"
	UserStatusDisabled UserStatus = "disabled"
)

// MembershipStatus represents the status of a user's membership in a
// tenant, independent of the user's global status
type MembershipStatus string

const (
	MembershipStatusActive      MembershipStatus = "active"
	MembershipStatusInvited     MembershipStatus = "invited"
	MembershipStatusOffboarded  MembershipStatus = "offboarded"
)

// Tenant represents an isolated customer organization within the platform
type Tenant struct {
	ID          string         `json:"id"`
	Slug        string         `json:"slug"`
	DisplayName string         `json:"display_name"`
	Status      TenantStatus   `json:"status"`
	Settings    map[string]any `json:"settings,omitempty"`
	Branding    map[string]any `json:"branding,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsActive reports whether the tenant may serve any traffic at all.
// A suspended or deleted tenant denies all app access regardless of grants.
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// User represents a platform user. ExternalID is the stable reference
// issued by the identity provider.
type User struct {
	ID         string     `json:"id"`
	ExternalID string     `json:"external_id"`
	Email      string     `json:"email"`
	FullName   string     `json:"full_name,omitempty"`
	Status     UserStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Membership links exactly one user to one tenant, unique per pair
type Membership struct {
	ID        string           `json:"id"`
	TenantID  string           `json:"tenant_id"`
	UserID    string           `json:"user_id"`
	Status    MembershipStatus `json:"status"`
	InvitedBy *string          `json:"invited_by,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Subject is the verified identity asserted by the identity provider.
// The core trusts this input and does not re-verify signatures.
type Subject struct {
	UserID     string `json:"user_id"`
	ExternalID string `json:"external_id,omitempty"`
	Email      string `json:"email"`
}
