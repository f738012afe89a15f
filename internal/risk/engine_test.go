package risk

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_EmptyInputIsBaseline(t *testing.T) {
	v := NewEngine().Evaluate(Signals{})

	assert.Equal(t, TierLow, v.RiskLevel)
	assert.Equal(t, BaselineScore, v.RiskScore)
	assert.Equal(t, ActionMonitor, v.RecommendedAction)
	assert.Empty(t, v.RiskSignals)
	assert.Empty(t, v.TriggeredPolicies)
	assert.NotNil(t, v.RiskSignals, "signals must encode as [] not null")
	assert.NotNil(t, v.TriggeredPolicies)
}

func TestEvaluate_NewAccountWithEarlyActivity(t *testing.T) {
	v := NewEngine().Evaluate(Signals{
		AccountAgeDays:     3,
		WithdrawalAttempts: 4,
		GeoSwitches:        1,
		ProfileChanges:     3,
	})

	assert.Equal(t, TierHigh, v.RiskLevel)
	assert.Equal(t, ActionEscalate, v.RecommendedAction)
	// 15 + 60 + 20 = 95, floor 85 does not lower it.
	assert.Equal(t, 95, v.RiskScore)
	assert.Equal(t, []string{
		SignalNewAccountVelocity,
		SignalProfileEdits,
		SignalEarlyLifecycle,
		SignalConcurrent,
	}, v.RiskSignals)
	assert.Equal(t, []Policy{
		PolicyNewAccountVelocity,
		PolicyProfileEdits,
		PolicyEarlyLifecycle,
	}, v.TriggeredPolicies)
	assert.Equal(t, 0.99, v.ConfidenceScore)
}

func TestEvaluate_GeoHoppingOnOlderAccount(t *testing.T) {
	v := NewEngine().Evaluate(Signals{
		AccountAgeDays:     45,
		WithdrawalAttempts: 1,
		GeoSwitches:        3,
	})

	assert.Equal(t, TierMedium, v.RiskLevel)
	assert.Equal(t, ActionRequestVerification, v.RecommendedAction)
	assert.Equal(t, 45, v.RiskScore)
	assert.Equal(t, []string{SignalGeoHopping}, v.RiskSignals)
	assert.Equal(t, []Policy{PolicyGeoHopping}, v.TriggeredPolicies)
	assert.Equal(t, 0.88, v.ConfidenceScore)
}

func TestEvaluate_StableAccount(t *testing.T) {
	engine := NewEngine()

	// The bonus requires strictly more than 180 days.
	v := engine.Evaluate(Signals{AccountAgeDays: 180})
	assert.Equal(t, TierLow, v.RiskLevel)
	assert.Equal(t, ActionMonitor, v.RecommendedAction)
	assert.LessOrEqual(t, v.RiskScore, BaselineScore)
	assert.NotContains(t, v.RiskSignals, SignalStableBehavior)

	v = engine.Evaluate(Signals{AccountAgeDays: 181})
	assert.Equal(t, TierLow, v.RiskLevel)
	assert.Equal(t, ActionMonitor, v.RecommendedAction)
	assert.Equal(t, 5, v.RiskScore)
	assert.Equal(t, []string{SignalStableBehavior}, v.RiskSignals)
	assert.Empty(t, v.TriggeredPolicies)
	assert.Equal(t, 0.995, v.ConfidenceScore)
}

func TestEvaluate_Rules(t *testing.T) {
	tests := []struct {
		name     string
		in       Signals
		tier     Tier
		action   Action
		score    int
		signals  []string
		policies []Policy
	}{
		{
			name:     "velocity needs age under 7",
			in:       Signals{AccountAgeDays: 7, WithdrawalAttempts: 3},
			tier:     TierLow,
			action:   ActionMonitor,
			score:    15,
			signals:  []string{},
			policies: []Policy{},
		},
		{
			name:     "velocity fires at 3 withdrawals",
			in:       Signals{AccountAgeDays: 6, WithdrawalAttempts: 3},
			tier:     TierHigh,
			action:   ActionEscalate,
			score:    75,
			signals:  []string{SignalNewAccountVelocity},
			policies: []Policy{PolicyNewAccountVelocity},
		},
		{
			name:     "single geo switch is not hopping",
			in:       Signals{AccountAgeDays: 90, GeoSwitches: 1},
			tier:     TierLow,
			action:   ActionMonitor,
			score:    15,
			signals:  []string{},
			policies: []Policy{},
		},
		{
			name:     "geo hopping keeps an earlier High and its escalation",
			in:       Signals{AccountAgeDays: 2, WithdrawalAttempts: 3, GeoSwitches: 2},
			tier:     TierHigh,
			action:   ActionEscalate,
			score:    99,
			signals:  []string{SignalNewAccountVelocity, SignalGeoHopping, SignalEarlyLifecycle},
			policies: []Policy{PolicyNewAccountVelocity, PolicyGeoHopping, PolicyEarlyLifecycle},
		},
		{
			name:     "profile edits add score without changing tier",
			in:       Signals{AccountAgeDays: 90, ProfileChanges: 3},
			tier:     TierLow,
			action:   ActionMonitor,
			score:    35,
			signals:  []string{SignalProfileEdits},
			policies: []Policy{PolicyProfileEdits},
		},
		{
			name:     "early lifecycle raises score to 85",
			in:       Signals{AccountAgeDays: 29, GeoSwitches: 1, WithdrawalAttempts: 1},
			tier:     TierHigh,
			action:   ActionEscalate,
			score:    85,
			signals:  []string{SignalEarlyLifecycle},
			policies: []Policy{PolicyEarlyLifecycle},
		},
		{
			name:     "early lifecycle needs age under 30",
			in:       Signals{AccountAgeDays: 30, GeoSwitches: 1, WithdrawalAttempts: 1},
			tier:     TierLow,
			action:   ActionMonitor,
			score:    15,
			signals:  []string{},
			policies: []Policy{},
		},
		{
			name:     "early lifecycle escalates a geo-hopping Medium",
			in:       Signals{AccountAgeDays: 10, GeoSwitches: 2, WithdrawalAttempts: 1},
			tier:     TierHigh,
			action:   ActionEscalate,
			score:    85,
			signals:  []string{SignalGeoHopping, SignalEarlyLifecycle},
			policies: []Policy{PolicyGeoHopping, PolicyEarlyLifecycle},
		},
		{
			name:     "concurrent behavior lifts Low to Medium",
			in:       Signals{AccountAgeDays: 90, WithdrawalAttempts: 2, ProfileChanges: 2},
			tier:     TierMedium,
			action:   ActionRequestVerification,
			score:    65,
			signals:  []string{SignalConcurrent},
			policies: []Policy{},
		},
		{
			name:     "concurrent behavior only signals when already Medium",
			in:       Signals{AccountAgeDays: 90, WithdrawalAttempts: 2, ProfileChanges: 2, GeoSwitches: 2},
			tier:     TierMedium,
			action:   ActionRequestVerification,
			score:    45,
			signals:  []string{SignalGeoHopping, SignalConcurrent},
			policies: []Policy{PolicyGeoHopping},
		},
		{
			name:     "stability bonus floors at 5",
			in:       Signals{AccountAgeDays: 365},
			tier:     TierLow,
			action:   ActionMonitor,
			score:    5,
			signals:  []string{SignalStableBehavior},
			policies: []Policy{},
		},
		{
			name:     "stability bonus subtracts 20 from a raised score",
			in:       Signals{AccountAgeDays: 365, ProfileChanges: 3},
			tier:     TierLow,
			action:   ActionMonitor,
			score:    15,
			signals:  []string{SignalProfileEdits, SignalStableBehavior},
			policies: []Policy{PolicyProfileEdits},
		},
		{
			name:     "withdrawals block the stability bonus",
			in:       Signals{AccountAgeDays: 365, WithdrawalAttempts: 1},
			tier:     TierLow,
			action:   ActionMonitor,
			score:    15,
			signals:  []string{},
			policies: []Policy{},
		},
		{
			name:   "everything at once clamps to 99",
			in:     Signals{AccountAgeDays: 1, WithdrawalAttempts: 9, GeoSwitches: 9, ProfileChanges: 9},
			tier:   TierHigh,
			action: ActionEscalate,
			score:  99,
			signals: []string{
				SignalNewAccountVelocity,
				SignalGeoHopping,
				SignalProfileEdits,
				SignalEarlyLifecycle,
				SignalConcurrent,
			},
			policies: []Policy{
				PolicyNewAccountVelocity,
				PolicyGeoHopping,
				PolicyProfileEdits,
				PolicyEarlyLifecycle,
			},
		},
	}

	engine := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := engine.Evaluate(tt.in)
			assert.Equal(t, tt.tier, v.RiskLevel)
			assert.Equal(t, tt.action, v.RecommendedAction)
			assert.Equal(t, tt.score, v.RiskScore)
			assert.Equal(t, tt.signals, v.RiskSignals)
			assert.Equal(t, tt.policies, v.TriggeredPolicies)
		})
	}
}

func TestEvaluate_NegativeCountersTreatedAsZero(t *testing.T) {
	engine := NewEngine()
	v := engine.Evaluate(Signals{AccountAgeDays: -400, WithdrawalAttempts: -3, GeoSwitches: -2, ProfileChanges: -9})
	assert.Equal(t, engine.Evaluate(Signals{}), v)
}

// forEachInput walks a grid that covers every rule boundary.
func forEachInput(fn func(Signals)) {
	ages := []int{0, 1, 6, 7, 29, 30, 180, 181, 1000}
	counts := []int{0, 1, 2, 3, 4, 10}
	for _, age := range ages {
		for _, wd := range counts {
			for _, geo := range counts {
				for _, pc := range counts {
					fn(Signals{AccountAgeDays: age, WithdrawalAttempts: wd, GeoSwitches: geo, ProfileChanges: pc})
				}
			}
		}
	}
}

func TestEvaluate_Invariants(t *testing.T) {
	engine := NewEngine()
	forEachInput(func(in Signals) {
		v := engine.Evaluate(in)

		require.GreaterOrEqual(t, v.RiskScore, MinScore, "%+v", in)
		require.LessOrEqual(t, v.RiskScore, MaxScore, "%+v", in)

		velocity := in.AccountAgeDays < 7 && in.WithdrawalAttempts >= 3
		early := in.AccountAgeDays < 30 && in.GeoSwitches >= 1 && in.WithdrawalAttempts >= 1
		if velocity || early {
			require.Equal(t, TierHigh, v.RiskLevel, "%+v", in)
		}
		require.Equal(t, velocity || early, v.RecommendedAction == ActionEscalate, "%+v", in)
		require.Equal(t, v.RiskLevel == TierHigh, v.RecommendedAction == ActionEscalate, "%+v", in)
		if v.RiskLevel == TierLow {
			require.Equal(t, ActionMonitor, v.RecommendedAction, "%+v", in)
		}
		if v.RiskLevel == TierMedium {
			require.Equal(t, ActionRequestVerification, v.RecommendedAction, "%+v", in)
		}
	})
}

func TestEvaluate_Deterministic(t *testing.T) {
	engine := NewEngine()
	forEachInput(func(in Signals) {
		a, err := json.Marshal(engine.Evaluate(in))
		require.NoError(t, err)
		b, err := json.Marshal(NewEngine().Evaluate(in))
		require.NoError(t, err)
		require.Equal(t, string(a), string(b))
	})
}

func TestVerdict_JSONRoundTrip(t *testing.T) {
	engine := NewEngine()
	for _, in := range []Signals{
		{},
		{AccountAgeDays: 3, WithdrawalAttempts: 4, GeoSwitches: 1, ProfileChanges: 3},
		{AccountAgeDays: 45, WithdrawalAttempts: 1, GeoSwitches: 3},
		{AccountAgeDays: 400},
	} {
		v := engine.Evaluate(in)
		data, err := json.Marshal(v)
		require.NoError(t, err)

		var decoded Verdict
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, *v, decoded)
	}
}

func TestVerdict_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(NewEngine().Evaluate(Signals{AccountAgeDays: 45, GeoSwitches: 3}))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{
		"risk_level", "risk_score", "risk_signals", "triggered_policies",
		"recommended_action", "explanation", "why_not_low", "risk_reduction_tips",
		"business_impact", "recommendation_impact", "confidence_score",
	} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "Medium", raw["risk_level"])
	assert.Equal(t, "Request verification", raw["recommended_action"])
	policies := raw["triggered_policies"].([]any)
	require.Len(t, policies, 1)
	assert.Equal(t, map[string]any{"id": "POL-GEO-055", "name": "Impossible Travel / Geo-Hopping"}, policies[0])
}

func TestEvaluate_VerdictsDoNotShareState(t *testing.T) {
	engine := NewEngine()
	a := engine.Evaluate(Signals{})
	a.RiskReductionTips[0] = "mutated"
	a.RiskSignals = append(a.RiskSignals, "mutated")

	b := engine.Evaluate(Signals{})
	assert.Equal(t, []string{"Continue standard monitoring"}, b.RiskReductionTips)
	assert.Empty(t, b.RiskSignals)
}

func TestEvaluate_Concurrent(t *testing.T) {
	engine := NewEngine()
	in := Signals{AccountAgeDays: 3, WithdrawalAttempts: 4, GeoSwitches: 1, ProfileChanges: 3}
	want := engine.Evaluate(in)

	var wg sync.WaitGroup
	results := make([]*Verdict, 64)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = engine.Evaluate(in)
		}()
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestRaiseTo(t *testing.T) {
	tests := []struct {
		cur, target, want Tier
	}{
		{TierLow, TierMedium, TierMedium},
		{TierLow, TierHigh, TierHigh},
		{TierMedium, TierHigh, TierHigh},
		{TierHigh, TierMedium, TierHigh},
		{TierHigh, TierLow, TierHigh},
		{TierMedium, TierLow, TierMedium},
		{TierMedium, TierMedium, TierMedium},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, raiseTo(tt.cur, tt.target), "raiseTo(%s, %s)", tt.cur, tt.target)
	}
}

func TestRules_Catalog(t *testing.T) {
	rules := NewEngine().Rules()
	require.Len(t, rules, 7)

	names := make([]string, len(rules))
	for i, r := range rules {
		assert.Equal(t, i+1, r.Order)
		names[i] = r.Name
	}
	assert.Equal(t, []string{
		"new_account_velocity",
		"geo_hopping",
		"excessive_profile_edits",
		"early_lifecycle_activity",
		"concurrent_risk_behavior",
		"stability_bonus",
		"score_clamp",
	}, names)

	require.NotNil(t, rules[0].Policy)
	assert.Equal(t, "POL-AML-001", rules[0].Policy.ID)
	assert.Equal(t, "POL-EARLY-003", rules[3].Policy.ID)
	assert.Nil(t, rules[4].Policy)

	// Callers get copies.
	rules[0].Policy.ID = "changed"
	assert.Equal(t, "POL-AML-001", NewEngine().Rules()[0].Policy.ID)
	assert.Equal(t, "POL-AML-001", PolicyNewAccountVelocity.ID)
}
