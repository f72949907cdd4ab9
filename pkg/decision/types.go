package decision

import (
	"github.com/mtaha-9646/schedules-covers/pkg/audit"
)

// DenyReason is the machine-readable reason attached to every deny.
// The vocabulary is fixed; callers branch on it.
type DenyReason string

const (
	ReasonTenantInactive         DenyReason = "tenant_inactive"
	ReasonAppDisabled            DenyReason = "app_disabled"
	ReasonInsufficientPermission DenyReason = "insufficient_permission"
	ReasonStoreUnavailable       DenyReason = "store_unavailable"
)

// Subject is the verified identity asserted by the identity provider.
// The service trusts it and does not re-verify.
type Subject struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// Target identifies what a state-changing request acts on, for the
// audit trail
type Target struct {
	Type audit.TargetType `json:"type"`
	ID   string           `json:"id"`
}

// Request is one authorization question
type Request struct {
	Subject       Subject      `json:"subject"`
	TenantID      string       `json:"tenant_id"`
	AppKey        string       `json:"app_key"`
	Permission    string       `json:"permission"`
	StateChanging bool         `json:"state_changing"`
	Action        audit.Action `json:"action,omitempty"`
	Target        *Target      `json:"target,omitempty"`

	// FlagKeys are feature flags to evaluate alongside the decision so
	// callers need a single round trip
	FlagKeys []string `json:"flag_keys,omitempty"`

	Origin audit.Origin `json:"-"`
}

// Decision is the answer: allow, or deny with a reason
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`

	// Flags carries the evaluated flag values for the request context.
	// Populated on allow only.
	Flags map[string]bool `json:"flags,omitempty"`
}

// Allow builds an allowed decision
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny builds a denied decision with the given reason
func Deny(reason DenyReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}
