package flags

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
)

// Source supplies flag definitions, implemented by the postgres store
// and the file provider
type Source interface {
	GetFlag(ctx context.Context, key string) (*Flag, error)
}

// Evaluator decides whether a flag is active for a given context.
// Evaluation is deterministic: the same flag definition and context
// always produce the same answer.
type Evaluator struct {
	source Source
}

// NewEvaluator creates a new flag evaluator
func NewEvaluator(source Source) *Evaluator {
	return &Evaluator{source: source}
}

// IsEnabled evaluates a flag for the given context. An unknown flag is
// off, not an error; a source failure propagates so the caller can
// fail closed.
//
// Rule precedence is fixed regardless of rule order: a deny-list match
// wins over everything, then an allow-list match, then percentage and
// attribute rules in definition order. A flag with rules and no match
// is off; a flag with no rules follows its enabled switch alone.
func (e *Evaluator) IsEnabled(ctx context.Context, flagKey string, evalCtx EvalContext) (bool, error) {
	flag, err := e.source.GetFlag(ctx, flagKey)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("flag %s: %w", flagKey, err)
	}

	return Evaluate(flag, evalCtx), nil
}

// ChainSource consults sources in order; the first definition found
// wins, so a file-pinned flag shadows its database counterpart
type ChainSource []Source

// GetFlag implements Source over the chain
func (c ChainSource) GetFlag(ctx context.Context, key string) (*Flag, error) {
	for _, s := range c {
		flag, err := s.GetFlag(ctx, key)
		if err == nil {
			return flag, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("flag %s: %w", key, ErrNotFound)
}

// Evaluate applies a flag definition to a context
func Evaluate(flag *Flag, evalCtx EvalContext) bool {
	// the kill switch always wins
	if !flag.Enabled {
		return false
	}
	if len(flag.Rules) == 0 {
		return true
	}

	for _, r := range flag.Rules {
		if deny, ok := r.(DenyListRule); ok && listMatches(deny.Tenants, deny.Users, evalCtx) {
			return false
		}
	}

	for _, r := range flag.Rules {
		if allow, ok := r.(AllowListRule); ok && listMatches(allow.Tenants, allow.Users, evalCtx) {
			return true
		}
	}

	for _, r := range flag.Rules {
		switch rule := r.(type) {
		case PercentageRule:
			if inRollout(flag.Key, rule, evalCtx) {
				return true
			}
		case AttributeRule:
			if evalCtx.Attributes[rule.Attribute] == rule.Equals && rule.Equals != "" {
				return true
			}
		}
	}

	return false
}

func listMatches(tenants, users []string, evalCtx EvalContext) bool {
	if evalCtx.TenantID != "" {
		for _, t := range tenants {
			if t == evalCtx.TenantID {
				return true
			}
		}
	}
	if evalCtx.UserID != "" {
		for _, u := range users {
			if u == evalCtx.UserID {
				return true
			}
		}
	}
	return false
}

// inRollout buckets the rollout identity into 0-99 with a stable hash
// of (flag key, identity). No randomness: repeated evaluation with
// unchanged inputs gives the same answer.
func inRollout(flagKey string, rule PercentageRule, evalCtx EvalContext) bool {
	id := evalCtx.TenantID
	if rule.By == RolloutByUser {
		id = evalCtx.UserID
	}
	if id == "" {
		return false
	}

	h := fnv.New32a()
	h.Write([]byte(flagKey))
	h.Write([]byte(":"))
	h.Write([]byte(id))

	return int(h.Sum32()%100) < rule.Percent
}
