package flags

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a referenced flag is absent
var ErrNotFound = errors.New("flags: not found")

// RuleKind discriminates targeting rule variants
type RuleKind string

const (
	KindDenyList   RuleKind = "deny_list"
	KindAllowList  RuleKind = "allow_list"
	KindPercentage RuleKind = "percentage"
	KindAttribute  RuleKind = "attribute"
)

// RolloutKey selects which identity a percentage rule hashes on
type RolloutKey string

const (
	RolloutByTenant RolloutKey = "tenant"
	RolloutByUser   RolloutKey = "user"
)

// Rule is one targeting rule variant. Each kind is a distinct type so
// evaluation is exhaustive per variant rather than a predicate over an
// untyped document.
type Rule interface {
	Kind() RuleKind
}

// DenyListRule excludes the listed tenants or users. A deny match beats
// every other rule.
type DenyListRule struct {
	Tenants []string `json:"tenants,omitempty" yaml:"tenants,omitempty"`
	Users   []string `json:"users,omitempty" yaml:"users,omitempty"`
}

func (DenyListRule) Kind() RuleKind { return KindDenyList }

// AllowListRule includes the listed tenants or users
type AllowListRule struct {
	Tenants []string `json:"tenants,omitempty" yaml:"tenants,omitempty"`
	Users   []string `json:"users,omitempty" yaml:"users,omitempty"`
}

func (AllowListRule) Kind() RuleKind { return KindAllowList }

// PercentageRule enables the flag for a stable fraction of tenants or
// users. Percent is 0-100; By selects the hashed identity.
type PercentageRule struct {
	Percent int        `json:"percent" yaml:"percent"`
	By      RolloutKey `json:"by,omitempty" yaml:"by,omitempty"`
}

func (PercentageRule) Kind() RuleKind { return KindPercentage }

// AttributeRule matches a single context attribute for equality
type AttributeRule struct {
	Attribute string `json:"attribute" yaml:"attribute"`
	Equals    string `json:"equals" yaml:"equals"`
}

func (AttributeRule) Kind() RuleKind { return KindAttribute }

// ruleEnvelope is the serialized form of any rule, carrying the
// discriminator plus the union of per-kind fields
type ruleEnvelope struct {
	Kind      RuleKind   `json:"kind" yaml:"kind"`
	Tenants   []string   `json:"tenants,omitempty" yaml:"tenants,omitempty"`
	Users     []string   `json:"users,omitempty" yaml:"users,omitempty"`
	Percent   int        `json:"percent,omitempty" yaml:"percent,omitempty"`
	By        RolloutKey `json:"by,omitempty" yaml:"by,omitempty"`
	Attribute string     `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Equals    string     `json:"equals,omitempty" yaml:"equals,omitempty"`
}

func (e ruleEnvelope) rule() (Rule, error) {
	switch e.Kind {
	case KindDenyList:
		return DenyListRule{Tenants: e.Tenants, Users: e.Users}, nil
	case KindAllowList:
		return AllowListRule{Tenants: e.Tenants, Users: e.Users}, nil
	case KindPercentage:
		if e.Percent < 0 || e.Percent > 100 {
			return nil, fmt.Errorf("percentage rule: percent %d out of range", e.Percent)
		}
		by := e.By
		if by == "" {
			by = RolloutByTenant
		}
		return PercentageRule{Percent: e.Percent, By: by}, nil
	case KindAttribute:
		if e.Attribute == "" {
			return nil, fmt.Errorf("attribute rule: attribute is required")
		}
		return AttributeRule{Attribute: e.Attribute, Equals: e.Equals}, nil
	default:
		return nil, fmt.Errorf("unknown rule kind %q", e.Kind)
	}
}

func envelopeOf(r Rule) ruleEnvelope {
	switch v := r.(type) {
	case DenyListRule:
		return ruleEnvelope{Kind: KindDenyList, Tenants: v.Tenants, Users: v.Users}
	case AllowListRule:
		return ruleEnvelope{Kind: KindAllowList, Tenants: v.Tenants, Users: v.Users}
	case PercentageRule:
		return ruleEnvelope{Kind: KindPercentage, Percent: v.Percent, By: v.By}
	case AttributeRule:
		return ruleEnvelope{Kind: KindAttribute, Attribute: v.Attribute, Equals: v.Equals}
	default:
		return ruleEnvelope{Kind: r.Kind()}
	}
}

// RuleSet is an ordered list of rules with envelope-based serialization
type RuleSet []Rule

// MarshalJSON serializes each rule with its discriminator
func (rs RuleSet) MarshalJSON() ([]byte, error) {
	envelopes := make([]ruleEnvelope, len(rs))
	for i, r := range rs {
		envelopes[i] = envelopeOf(r)
	}
	return json.Marshal(envelopes)
}

// UnmarshalJSON rejects unknown rule kinds rather than skipping them
func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	var envelopes []ruleEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return err
	}

	out := make(RuleSet, 0, len(envelopes))
	for _, e := range envelopes {
		r, err := e.rule()
		if err != nil {
			return err
		}
		out = append(out, r)
	}
	*rs = out
	return nil
}

// Flag is a feature flag with its kill switch and targeting rules
type Flag struct {
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	Rules       RuleSet   `json:"rules,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EvalContext carries the identities and attributes a flag is evaluated
// against
type EvalContext struct {
	TenantID   string            `json:"tenant_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
