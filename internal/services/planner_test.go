package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/planner/internal/compliance"
	"github.com/fyrsmithlabs/planner/internal/gate"
	"github.com/fyrsmithlabs/planner/internal/llm"
	"github.com/fyrsmithlabs/planner/internal/logging"
	"github.com/fyrsmithlabs/planner/internal/orchestrator"
	"github.com/fyrsmithlabs/planner/internal/plan"
	rules "github.com/fyrsmithlabs/planner/internal/registry"
	"github.com/fyrsmithlabs/planner/internal/revision"
	"github.com/fyrsmithlabs/planner/internal/scrub"
	"github.com/fyrsmithlabs/planner/internal/store"
	"github.com/fyrsmithlabs/planner/internal/telemetry"
)

type harness struct {
	planner *Planner
	client  *llm.Mock
	store   store.Store
	logs    *logging.TestLogger
}

func newHarness(t *testing.T, withReviser bool) *harness {
	t.Helper()
	reg := rules.Default()
	client := llm.NewMock()
	v, err := compliance.New(reg, "")
	require.NoError(t, err)

	opts := Options{
		Rules:     reg,
		Pipeline:  orchestrator.New(reg, client, orchestrator.Config{}),
		Validator: v,
		Store:     store.NewMemory(),
		Scrubber:  scrub.MustNew(nil),
	}
	if withReviser {
		opts.Reviser = revision.New(client, v)
	}
	logs := logging.NewTestLogger()
	p, err := NewPlanner(NewRegistry(opts), WithLogger(logs.Logger))
	require.NoError(t, err)
	return &harness{planner: p, client: client, store: opts.Store, logs: logs}
}

var clabsi = plan.PlanningInput{
	PlanningID:       "pl-clabsi",
	Concern:          "CLABSI",
	Intent:           "Review central line infections for the quarter",
	TargetPopulation: "Adult ICU patients with central lines",
}

func TestRegistryAccessors(t *testing.T) {
	reg := NewRegistry(Options{})
	assert.Nil(t, reg.Rules())
	assert.Nil(t, reg.Pipeline())
	assert.Nil(t, reg.Validator())
	assert.Nil(t, reg.Reviser())
	assert.Nil(t, reg.Store())
	assert.False(t, reg.Scrubber().IsEnabled(), "nil scrubber becomes noop")
}

func TestNewPlanner_RequiresPipelineAndStore(t *testing.T) {
	_, err := NewPlanner(nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewPlanner(NewRegistry(Options{Pipeline: orchestrator.New(rules.Default(), llm.NewMock(), orchestrator.Config{})}))
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorContains(t, err, "store")
}

func TestGenerate_StoresScoredPlan(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	out, err := h.planner.Generate(ctx, clabsi)
	require.NoError(t, err)

	id := out.Plan.Metadata.PlanID
	require.NotEmpty(t, id)
	assert.Equal(t, 100, out.Compliance.Score, out.Compliance.Errors)
	assert.Equal(t, id, out.Report.PlanID)
	assert.Zero(t, out.Redactions)

	stored, err := h.planner.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, stored.Metadata.PlanID)
	assert.Equal(t, out.Plan.Metadata.GateDecision, stored.Metadata.GateDecision)

	records, err := h.planner.Audit(ctx, id)
	require.NoError(t, err)
	assert.Len(t, records, len(plan.AllStages()))

	list, err := h.planner.List(ctx, store.ListOptions{PlanningID: "pl-clabsi"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].PlanID)

	report, err := h.planner.ValidateStored(ctx, id)
	require.NoError(t, err)
	assert.True(t, report.IsValid)

	h.logs.AssertLogged(t, zapcore.InfoLevel, "plan generated")
	h.logs.AssertField(t, "plan generated", logging.KeyPlanID, id)
}

func TestGenerate_HaltStoresNothing(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	out, err := h.planner.Generate(ctx, plan.PlanningInput{Concern: "WIDGET QUALITY"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gate.ErrHalted)
	assert.Equal(t, plan.StageDomain, out.Report.HaltedAt)
	assert.Empty(t, out.Plan.Metadata.PlanID)

	list, err := h.planner.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGenerate_ScrubsFreeText(t *testing.T) {
	h := newHarness(t, false)
	in := clabsi
	in.Intent = "Review patient 123-45-6789 and similar central line cases"
	in.SpecificRequirements = []string{"email results to quality@hospital.org"}

	out, err := h.planner.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Redactions)

	require.NotEmpty(t, h.client.Calls())
	for _, call := range h.client.Calls() {
		assert.NotContains(t, string(call.Payload), "123-45-6789")
		assert.NotContains(t, string(call.Payload), "quality@hospital.org")
	}
	h.logs.AssertLogged(t, zapcore.WarnLevel, "redacted identifiers from planning input")
	h.logs.AssertField(t, "redacted identifiers from planning input", "findings", int64(2))
}

func TestRevise_StoresChildPlan(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	gen, err := h.planner.Generate(ctx, clabsi)
	require.NoError(t, err)
	parent := gen.Plan.Metadata.PlanID

	rev, err := h.planner.Revise(ctx, parent, plan.ScopeSignals, "Add line removal date; ask jane@hospital.org")
	require.NoError(t, err)
	assert.Equal(t, parent, rev.Plan.Metadata.ParentPlanID)
	assert.NotEqual(t, parent, rev.Plan.Metadata.PlanID)
	assert.Equal(t, 1, rev.Redactions)
	require.NotNil(t, rev.Plan.Metadata.Revision)
	assert.NotContains(t, rev.Plan.Metadata.Revision.Remark, "jane@hospital.org")

	chain, err := h.planner.Lineage(ctx, rev.Plan.Metadata.PlanID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, parent, chain[0].PlanID)
	assert.Equal(t, "signals", chain[1].RevisionScope)

	orig, err := h.planner.Get(ctx, parent)
	require.NoError(t, err)
	assert.Nil(t, orig.Metadata.Revision, "parent is unchanged")
	assert.Len(t, orig.SignalGroups, len(gen.Plan.SignalGroups))
}

func TestRevise_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := newHarness(t, false).planner.Revise(ctx, "any", plan.ScopeFull, "x")
	assert.ErrorIs(t, err, ErrNotConfigured)

	h := newHarness(t, true)
	_, err = h.planner.Revise(ctx, "missing", plan.ScopeFull, "x")
	assert.ErrorIs(t, err, store.ErrNotFound)

	gen, err := h.planner.Generate(ctx, clabsi)
	require.NoError(t, err)
	_, err = h.planner.Revise(ctx, gen.Plan.Metadata.PlanID, plan.ScopeSignals, "  ")
	assert.ErrorIs(t, err, revision.ErrEmptyRemark)
}

func TestValidate_MalformedArtifact(t *testing.T) {
	h := newHarness(t, false)
	report, err := h.planner.Validate(context.Background(), []byte("not json"))
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.Less(t, report.Score, 100)

	_, err = h.planner.GetArtifact(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGenerate_EmitsSpans(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	restore := tt.Install()
	defer restore()

	h := newHarness(t, false)
	_, err := h.planner.Generate(context.Background(), clabsi)
	require.NoError(t, err)

	tt.AssertSpanExists(t, "planner.Generate")
	tt.AssertSpanAttribute(t, "planner.Generate", "compliance.score", int64(100))
}
