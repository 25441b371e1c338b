package compliance

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/planner/internal/assembler"
	"github.com/fyrsmithlabs/planner/internal/executor"
	"github.com/fyrsmithlabs/planner/internal/llm"
	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/prompt"
	"github.com/fyrsmithlabs/planner/internal/registry"
	"github.com/fyrsmithlabs/planner/internal/resolver"
	"github.com/fyrsmithlabs/planner/internal/skeleton"
	"github.com/fyrsmithlabs/planner/internal/taskgraph"
)

func safetyPlan(t *testing.T) plan.PlannerPlan {
	t.Helper()
	reg := registry.Default()
	ctx := context.Background()
	req := plan.NormalizedRequest{PlanningID: "pl-1", Concern: "CLABSI"}
	dc, _ := resolver.New(reg).Resolve(ctx, req)
	s, _ := skeleton.New(reg, 0).Build(req, dc)
	g, _ := taskgraph.New(reg).Build(dc, s)
	pp, _ := prompt.New(reg).Build(req, dc, s, g)
	exec, _ := executor.New(llm.NewMock(), executor.Config{}).Execute(ctx, s, g, pp)
	p, res := assembler.New(reg).Assemble(assembler.Input{Request: req, Context: dc, Skeleton: s, Prompts: pp, Execution: exec})
	require.False(t, res.HasStructuralErrors())
	return p
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(registry.Default(), "")
	require.NoError(t, err)
	return v
}

func TestWeightsSumTo100(t *testing.T) {
	total := 0
	for _, w := range newValidator(t).Weights() {
		total += w
	}
	assert.Equal(t, 100, total)
	assert.Len(t, newValidator(t).Weights(), 10)
}

func TestValidate_SafetyPlanScores100(t *testing.T) {
	r, err := newValidator(t).ValidatePlan(safetyPlan(t))
	require.NoError(t, err)
	assert.True(t, r.IsValid, r.Errors)
	assert.Equal(t, 100, r.Score)
	assert.Empty(t, r.Failed())
	assert.Len(t, r.Checks, 10)
}

func TestValidate_SingleFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *plan.PlannerPlan)
		check  string
	}{
		{"foreign group id", func(p *plan.PlannerPlan) { p.SignalGroups[0].ID = plan.GroupCoreCriteria }, CheckSignalGroupIDs},
		{"signal without provenance", func(p *plan.PlannerPlan) { p.SignalGroups[1].Signals[0].Provenance = nil }, CheckSignalProvenance},
		{"rule without provenance", func(p *plan.PlannerPlan) { p.Criteria[0].Provenance = nil }, CheckRuleProvenance},
		{"todo in summary", func(p *plan.PlannerPlan) { p.Rationale.Summary += " TODO fill in" }, CheckPlaceholderText},
		{"template token", func(p *plan.PlannerPlan) { p.Questions[0].Text = "Was <DEVICE_TYPE> removed?" }, CheckPlaceholderText},
		{"signal missing description", func(p *plan.PlannerPlan) { p.SignalGroups[0].Signals[0].Description = "" }, CheckSignalFields},
		{"unknown question type", func(p *plan.PlannerPlan) { p.Questions[0].Type = "essay" }, CheckQuestionsShape},
		{"choice without options", func(p *plan.PlannerPlan) { p.Questions[0].Type = plan.QuestionChoice }, CheckQuestionsShape},
		{"older version", func(p *plan.PlannerPlan) { p.Metadata.SchemaVersion = "2.1.0" }, CheckVersionMatch},
		{"non semver version", func(p *plan.PlannerPlan) { p.Metadata.SchemaVersion = "latest" }, CheckVersionMatch},
		{"missing segments", func(p *plan.PlannerPlan) { p.Rationale.Segments = nil }, CheckRationaleCompleteness},
		{"empty summary", func(p *plan.PlannerPlan) { p.Rationale.Summary = "" }, CheckRationaleCompleteness},
	}
	v := newValidator(t)
	weights := v.Weights()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := safetyPlan(t)
			require.NotEmpty(t, p.Criteria)
			require.NotEmpty(t, p.Questions)
			tt.mutate(&p)

			r, err := v.ValidatePlan(p)
			require.NoError(t, err)
			assert.False(t, r.IsValid)
			assert.Equal(t, []string{tt.check}, r.Failed())
			assert.Equal(t, 100-weights[tt.check], r.Score)
		})
	}
}

func TestValidate_EngineErrorTextIsPlaceholder(t *testing.T) {
	p := safetyPlan(t)
	p.Rationale.Segments[0].Text = executor.Placeholder("timeout")
	p.Rationale.Text = p.Rationale.Segments[0].Header + "\n\n" + p.Rationale.Segments[0].Text

	r, err := newValidator(t).ValidatePlan(p)
	require.NoError(t, err)
	assert.Equal(t, []string{CheckPlaceholderText}, r.Failed())
}

func TestValidate_MissingSection(t *testing.T) {
	data, err := plan.MarshalArtifact(safetyPlan(t))
	require.NoError(t, err)
	var doc map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	delete(doc[plan.ArtifactRootKey], "phases")
	data, err = json.Marshal(doc)
	require.NoError(t, err)

	r := newValidator(t).Validate(data)
	assert.Equal(t, []string{CheckRequiredSections}, r.Failed())
	assert.Equal(t, 85, r.Score)
	assert.Contains(t, r.Errors, "required_sections: missing section phases")
}

func TestValidate_RootObject(t *testing.T) {
	data, err := json.Marshal(map[string]any{"plan": safetyPlan(t)})
	require.NoError(t, err)
	r := newValidator(t).Validate(data)
	assert.False(t, r.IsValid)
	assert.Contains(t, r.Failed(), CheckRootObject)
	assert.Equal(t, 0, r.Score)

	data, err = plan.MarshalArtifact(safetyPlan(t))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["extra"] = json.RawMessage(`{}`)
	data, err = json.Marshal(doc)
	require.NoError(t, err)
	r = newValidator(t).Validate(data)
	assert.Equal(t, []string{CheckRootObject}, r.Failed())
	assert.Equal(t, 95, r.Score)
}

func TestValidate_NotJSON(t *testing.T) {
	r := newValidator(t).Validate([]byte("not json"))
	assert.False(t, r.IsValid)
	assert.Equal(t, 0, r.Score)
	assert.Len(t, r.Failed(), 10)
}

func TestNew_RejectsBadVersion(t *testing.T) {
	_, err := New(registry.Default(), "three")
	assert.Error(t, err)
}
