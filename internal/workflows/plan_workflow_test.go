package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/planner/internal/compliance"
	"github.com/fyrsmithlabs/planner/internal/gate"
	"github.com/fyrsmithlabs/planner/internal/llm"
	"github.com/fyrsmithlabs/planner/internal/logging"
	"github.com/fyrsmithlabs/planner/internal/orchestrator"
	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
	"github.com/fyrsmithlabs/planner/internal/scrub"
	"github.com/fyrsmithlabs/planner/internal/services"
	"github.com/fyrsmithlabs/planner/internal/store"
)

type harness struct {
	env     *testsuite.TestWorkflowEnvironment
	acts    *Activities
	planner *services.Planner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rules := registry.Default()
	v, err := compliance.New(rules, "")
	require.NoError(t, err)
	reg := services.NewRegistry(services.Options{
		Rules:     rules,
		Pipeline:  orchestrator.New(rules, llm.NewMock(), orchestrator.Config{}),
		Validator: v,
		Store:     store.NewMemory(),
		Scrubber:  scrub.MustNew(nil),
	})
	p, err := services.NewPlanner(reg)
	require.NoError(t, err)
	acts, err := NewActivities(reg, p, logging.Nop())
	require.NoError(t, err)

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(PlanWorkflow)
	env.RegisterActivity(acts)
	return &harness{env: env, acts: acts, planner: p}
}

func (h *harness) run(t *testing.T, in plan.PlanningInput) PlanWorkflowResult {
	t.Helper()
	h.env.ExecuteWorkflow(PlanWorkflow, PlanWorkflowInput{Input: in})
	require.True(t, h.env.IsWorkflowCompleted())
	require.NoError(t, h.env.GetWorkflowError())

	var result PlanWorkflowResult
	require.NoError(t, h.env.GetWorkflowResult(&result))
	return result
}

func TestPlanWorkflow(t *testing.T) {
	t.Run("stores a scored plan", func(t *testing.T) {
		h := newHarness(t)
		result := h.run(t, plan.PlanningInput{
			PlanningID:       "pl-clabsi",
			Concern:          "CLABSI",
			Intent:           "Review central line infections",
			TargetPopulation: "Adult ICU",
		})

		require.NotEmpty(t, result.PlanID)
		assert.NotEmpty(t, result.RunID)
		assert.Equal(t, plan.DomainID("CLABSI"), result.Domain)
		assert.NotEqual(t, plan.DecisionHalt, result.Decision)
		assert.Equal(t, 100, result.ComplianceScore)
		assert.True(t, result.IsValid)
		assert.GreaterOrEqual(t, result.Lanes, 1)
		assert.Empty(t, result.Errors)

		stored, err := h.planner.Get(context.Background(), result.PlanID)
		require.NoError(t, err)
		assert.Equal(t, plan.AllStages(), stagesOf(stored.Audit))
	})

	t.Run("lanes join in canonical order", func(t *testing.T) {
		h := newHarness(t)
		result := h.run(t, plan.PlanningInput{
			Concern:         "ORTHOPEDICS",
			Intent:          "Review hip fracture outcomes",
			Differentiators: []string{"preventability", "exclusion_criteria"},
		})
		assert.Equal(t, 2, result.Lanes)

		stored, err := h.planner.Get(context.Background(), result.PlanID)
		require.NoError(t, err)
		require.Len(t, stored.Rationale.Segments, 2)
		assert.Equal(t, "## Exclusion_Hunter", stored.Rationale.Segments[0].Header)
		assert.Equal(t, "## Preventability_Detective", stored.Rationale.Segments[1].Header)
	})

	t.Run("halt is an outcome", func(t *testing.T) {
		h := newHarness(t)
		result := h.run(t, plan.PlanningInput{Concern: "WIDGET QUALITY"})

		assert.Equal(t, plan.DecisionHalt, result.Decision)
		assert.Equal(t, plan.StageDomain, result.HaltedAt)
		assert.NotEmpty(t, result.Violations)
		assert.Empty(t, result.PlanID)
		assert.Zero(t, result.Lanes)

		list, err := h.planner.List(context.Background(), store.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("redactions are reported", func(t *testing.T) {
		h := newHarness(t)
		result := h.run(t, plan.PlanningInput{
			Concern: "CAUTI",
			Intent:  "Review catheter cases incl. MRN: 00123456",
		})
		assert.Equal(t, 1, result.Redactions)
	})

	t.Run("prepare failure fails the workflow", func(t *testing.T) {
		h := newHarness(t)
		h.env.OnActivity(h.acts.Prepare, mock.Anything, mock.Anything).Return((*PrepareOutput)(nil), errors.New("worker lost"))

		h.env.ExecuteWorkflow(PlanWorkflow, PlanWorkflowInput{Input: plan.PlanningInput{Concern: "SSI"}})
		require.True(t, h.env.IsWorkflowCompleted())
		err := h.env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to prepare plan")
	})
}

func stagesOf(recs []plan.StageRecord) []plan.Stage {
	out := make([]plan.Stage, len(recs))
	for i, r := range recs {
		out[i] = r.Stage
	}
	return out
}

func TestNewActivities(t *testing.T) {
	_, err := NewActivities(nil, nil, nil)
	assert.ErrorIs(t, err, services.ErrNotConfigured)

	reg := services.NewRegistry(services.Options{
		Pipeline: orchestrator.New(registry.Default(), llm.NewMock(), orchestrator.Config{}),
	})
	_, err = NewActivities(reg, nil, nil)
	assert.ErrorIs(t, err, services.ErrNotConfigured)
}

func TestFinish_RequiresState(t *testing.T) {
	h := newHarness(t)
	_, err := h.acts.Finish(context.Background(), FinishInput{})
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())
}

func TestActivityError(t *testing.T) {
	tests := []struct {
		err          error
		nonRetryable bool
	}{
		{gate.ErrOutOfOrder, true},
		{gate.ErrHalted, true},
		{store.ErrExists, true},
		{errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := activityError("finish", tt.err)
			assert.ErrorContains(t, err, "finish")
			var appErr *temporal.ApplicationError
			if tt.nonRetryable {
				require.ErrorAs(t, err, &appErr)
				assert.True(t, appErr.NonRetryable())
				return
			}
			assert.False(t, errors.As(err, &appErr))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
