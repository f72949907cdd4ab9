package audit

import (
	"time"
)

// Action is the audited operation, a stable dotted key
type Action string

const (
	// Decision outcomes
	ActionDecisionAllow Action = "decision.allow"
	ActionDecisionDeny  Action = "decision.deny"

	// Tenant lifecycle
	ActionTenantCreate       Action = "tenant.create"
	ActionTenantStatusChange Action = "tenant.status_change"
	ActionTenantUpdate       Action = "tenant.update"

	// Membership changes
	ActionMembershipUpsert   Action = "membership.upsert"
	ActionMembershipOffboard Action = "membership.offboard"

	// Grants
	ActionGrantCreate         Action = "grant.create"
	ActionGrantRevoke         Action = "grant.revoke"
	ActionPlatformGrantCreate Action = "grant.platform_create"
	ActionPlatformGrantRevoke Action = "grant.platform_revoke"

	// Catalog mutation
	ActionRoleCreate       Action = "catalog.role_create"
	ActionPermissionCreate Action = "catalog.permission_create"
	ActionRoleBindChange   Action = "catalog.role_bind_change"

	// App registry and enablement
	ActionAppCreate       Action = "app.create"
	ActionAppStatusChange Action = "app.status_change"
	ActionTenantAppUpsert Action = "app.enablement_change"

	// Feature flags
	ActionFlagUpsert Action = "flag.upsert"
	ActionFlagToggle Action = "flag.toggle"

	// Audit access itself
	ActionAuditExport Action = "audit.export"
)

// TargetType classifies what an entry acted on
type TargetType string

const (
	TargetTenant     TargetType = "tenant"
	TargetUser       TargetType = "user"
	TargetMembership TargetType = "membership"
	TargetGrant      TargetType = "grant"
	TargetRole       TargetType = "role"
	TargetPermission TargetType = "permission"
	TargetApp        TargetType = "app"
	TargetTenantApp  TargetType = "tenant_app"
	TargetFlag       TargetType = "flag"
	TargetDecision   TargetType = "decision"
)

// Origin captures where the request came from
type Origin struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Entry is one immutable audit record. Once written it is never
// updated or deleted; retention archives entries before pruning.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	ActorID    string `json:"actor_id,omitempty"`
	ActorEmail string `json:"actor_email,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`

	Action     Action     `json:"action"`
	TargetType TargetType `json:"target_type,omitempty"`
	TargetID   string     `json:"target_id,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Origin   Origin         `json:"origin,omitempty"`
}

// Filter narrows a search. Nil/zero fields are not applied.
type Filter struct {
	TenantID  string
	ActorID   string
	Actions   []Action
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Stats summarizes the trail for a time window
type Stats struct {
	TotalEntries   int64            `json:"total_entries"`
	ByAction       map[Action]int64 `json:"by_action"`
	ByTenant       map[string]int64 `json:"by_tenant"`
	EarliestEntry  *time.Time       `json:"earliest_entry,omitempty"`
	LatestEntry    *time.Time       `json:"latest_entry,omitempty"`
	DistinctActors int64            `json:"distinct_actors"`
}

// ExportFormat selects the serialization for an export
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)
