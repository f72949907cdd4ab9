package flags

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSource map[string]*Flag

func (m mapSource) GetFlag(_ context.Context, key string) (*Flag, error) {
	flag, ok := m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return flag, nil
}

func TestEvaluate_KillSwitch(t *testing.T) {
	// enabled=false wins over every rule, including an allow-list that
	// would otherwise match
	flag := &Flag{
		Key:     "covers.auto_assign",
		Enabled: false,
		Rules: RuleSet{
			AllowListRule{Tenants: []string{"tenant-1"}},
			PercentageRule{Percent: 100, By: RolloutByTenant},
		},
	}

	assert.False(t, Evaluate(flag, EvalContext{TenantID: "tenant-1", UserID: "user-1"}))
	assert.False(t, Evaluate(flag, EvalContext{}))
}

func TestEvaluate_NoRules(t *testing.T) {
	flag := &Flag{Key: "schedules.week_view", Enabled: true}

	assert.True(t, Evaluate(flag, EvalContext{TenantID: "anyone"}))
}

func TestEvaluate_DenyBeatsAllow(t *testing.T) {
	// rule order in the definition must not matter: deny wins even when
	// listed after a matching allow rule
	flag := &Flag{
		Key:     "behavior.points",
		Enabled: true,
		Rules: RuleSet{
			AllowListRule{Tenants: []string{"tenant-1"}},
			DenyListRule{Users: []string{"user-1"}},
		},
	}

	assert.False(t, Evaluate(flag, EvalContext{TenantID: "tenant-1", UserID: "user-1"}))
	assert.True(t, Evaluate(flag, EvalContext{TenantID: "tenant-1", UserID: "user-2"}))
}

func TestEvaluate_AllowList(t *testing.T) {
	flag := &Flag{
		Key:     "behavior.points",
		Enabled: true,
		Rules:   RuleSet{AllowListRule{Users: []string{"user-1"}}},
	}

	assert.True(t, Evaluate(flag, EvalContext{UserID: "user-1"}))
	assert.False(t, Evaluate(flag, EvalContext{UserID: "user-2"}))
	// rules present and nothing matched: off
	assert.False(t, Evaluate(flag, EvalContext{}))
}

func TestEvaluate_PercentageDeterministic(t *testing.T) {
	flag := &Flag{
		Key:     "covers.smart_fill",
		Enabled: true,
		Rules:   RuleSet{PercentageRule{Percent: 50, By: RolloutByTenant}},
	}

	first := Evaluate(flag, EvalContext{TenantID: "tenant-1"})
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Evaluate(flag, EvalContext{TenantID: "tenant-1"}))
	}
}

func TestEvaluate_PercentageBounds(t *testing.T) {
	off := &Flag{Key: "x", Enabled: true, Rules: RuleSet{PercentageRule{Percent: 0, By: RolloutByUser}}}
	on := &Flag{Key: "x", Enabled: true, Rules: RuleSet{PercentageRule{Percent: 100, By: RolloutByUser}}}

	for _, id := range []string{"user-1", "user-2", "user-3"} {
		assert.False(t, Evaluate(off, EvalContext{UserID: id}))
		assert.True(t, Evaluate(on, EvalContext{UserID: id}))
	}

	// no rollout identity in context: never in
	assert.False(t, Evaluate(on, EvalContext{TenantID: "tenant-1"}))
}

func TestEvaluate_Attribute(t *testing.T) {
	flag := &Flag{
		Key:     "schedules.beta",
		Enabled: true,
		Rules:   RuleSet{AttributeRule{Attribute: "plan", Equals: "premium"}},
	}

	assert.True(t, Evaluate(flag, EvalContext{Attributes: map[string]string{"plan": "premium"}}))
	assert.False(t, Evaluate(flag, EvalContext{Attributes: map[string]string{"plan": "basic"}}))
	assert.False(t, Evaluate(flag, EvalContext{}))
}

func TestEvaluator_UnknownFlagIsOff(t *testing.T) {
	eval := NewEvaluator(mapSource{})

	enabled, err := eval.IsEnabled(context.Background(), "nope", EvalContext{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestChainSource_FileShadowsStore(t *testing.T) {
	file := mapSource{"covers.smart_fill": {Key: "covers.smart_fill", Enabled: false}}
	store := mapSource{
		"covers.smart_fill": {Key: "covers.smart_fill", Enabled: true},
		"behavior.points":   {Key: "behavior.points", Enabled: true},
	}
	eval := NewEvaluator(ChainSource{file, store})

	enabled, err := eval.IsEnabled(context.Background(), "covers.smart_fill", EvalContext{TenantID: "t"})
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = eval.IsEnabled(context.Background(), "behavior.points", EvalContext{TenantID: "t"})
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestRuleSet_RoundTrip(t *testing.T) {
	rules := RuleSet{
		DenyListRule{Tenants: []string{"tenant-9"}},
		AllowListRule{Users: []string{"user-1", "user-2"}},
		PercentageRule{Percent: 25, By: RolloutByUser},
		AttributeRule{Attribute: "region", Equals: "uk"},
	}

	data, err := json.Marshal(rules)
	require.NoError(t, err)

	var decoded RuleSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rules, decoded)
}

func TestRuleSet_UnknownKindRejected(t *testing.T) {
	var rs RuleSet
	err := json.Unmarshal([]byte(`[{"kind":"geo_fence"}]`), &rs)
	assert.Error(t, err)
}
