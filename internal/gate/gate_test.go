package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

func resultWith(tier plan.Tier) plan.ValidationResult {
	f := plan.NewFindings(plan.StageIntake)
	switch tier {
	case plan.TierStructural:
		f.Structural("missing_concern", "concern is required")
	case plan.TierSemantic:
		f.Semantic("missing_intent", "intent not provided")
	case plan.TierClinical:
		f.Clinical("missing_population", "target population not provided")
	}
	return f.Result()
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		tier plan.Tier
		th   Thresholds
		want plan.Decision
	}{
		{name: "clean passes", tier: 0, want: plan.DecisionPass},
		{name: "structural halts", tier: plan.TierStructural, want: plan.DecisionHalt},
		{name: "semantic warns", tier: plan.TierSemantic, want: plan.DecisionWarn},
		{name: "clinical passes", tier: plan.TierClinical, want: plan.DecisionPass},
		{name: "clinical warns when configured", tier: plan.TierClinical, th: Thresholds{WarnOnClinical: true}, want: plan.DecisionWarn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(plan.StageIntake, resultWith(tt.tier), tt.th)
			assert.Equal(t, tt.want, got.Decision)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestDecide_HaltReasonListsViolations(t *testing.T) {
	got := Decide(plan.StageSkeleton, resultWith(plan.TierStructural), Thresholds{})
	assert.Contains(t, got.Reason, "S2")
	assert.Contains(t, got.Reason, "missing_concern")
}

func TestEngine_SequentialOrder(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	now := time.Now()

	_, err := e.Record(plan.StageDomain, plan.NewValidationResult(), now, 0)
	assert.ErrorIs(t, err, ErrOutOfOrder)

	for _, st := range plan.AllStages() {
		_, err := e.Record(st, plan.NewValidationResult(), now, time.Millisecond)
		require.NoError(t, err)
	}
	assert.True(t, e.Done())
	assert.Equal(t, plan.DecisionPass, e.Overall())

	_, err = e.Record(plan.StageAssemble, plan.NewValidationResult(), now, 0)
	assert.ErrorIs(t, err, ErrComplete)
}

func TestEngine_HaltBlocksFurtherStages(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	now := time.Now()

	_, err := e.Record(plan.StageIntake, resultWith(plan.TierSemantic), now, 0)
	require.NoError(t, err)
	rec, err := e.Record(plan.StageDomain, resultWith(plan.TierStructural), now, 0)
	require.NoError(t, err)
	assert.Equal(t, plan.DecisionHalt, rec.Gate.Decision)

	_, err = e.Record(plan.StageSkeleton, plan.NewValidationResult(), now, 0)
	assert.ErrorIs(t, err, ErrHalted)

	assert.True(t, e.Halted())
	assert.Equal(t, plan.StageDomain, e.HaltedAt())
	assert.Equal(t, plan.DecisionHalt, e.Overall())
	assert.Len(t, e.Records(), 2)
	require.Len(t, e.Violations(), 1)
	assert.Equal(t, "missing_concern", e.Violations()[0].Code)
}

func TestEngine_OverallNeverDowngrades(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	now := time.Now()

	_, err := e.Record(plan.StageIntake, resultWith(plan.TierSemantic), now, 0)
	require.NoError(t, err)
	for _, st := range plan.AllStages()[1:] {
		_, err := e.Record(st, plan.NewValidationResult(), now, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, plan.DecisionWarn, e.Overall())
	assert.Len(t, e.Warnings(), 1)
}

func TestResume(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	now := time.Now()
	for _, st := range plan.AllStages()[:3] {
		_, err := e.Record(st, plan.NewValidationResult(), now, 0)
		require.NoError(t, err)
	}

	resumed, err := Resume(DefaultPolicy(), e.Records())
	require.NoError(t, err)
	next, ok := resumed.Next()
	require.True(t, ok)
	assert.Equal(t, plan.StageTaskGraph, next)

	records := e.Records()
	records[0], records[1] = records[1], records[0]
	_, err = Resume(DefaultPolicy(), records)
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestPolicyOverrides(t *testing.T) {
	p := Policy{Stages: map[plan.Stage]Thresholds{plan.StageAssemble: {WarnOnClinical: true}}}
	assert.True(t, p.For(plan.StageAssemble).WarnOnClinical)
	assert.False(t, p.For(plan.StageIntake).WarnOnClinical)
}
