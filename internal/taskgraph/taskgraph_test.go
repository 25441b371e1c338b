package taskgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
	"github.com/fyrsmithlabs/planner/internal/resolver"
	"github.com/fyrsmithlabs/planner/internal/skeleton"
)

func prepare(t *testing.T, req plan.NormalizedRequest) (plan.DomainContext, plan.Skeleton) {
	t.Helper()
	reg := registry.Default()
	dc, res := resolver.New(reg).Resolve(context.Background(), req)
	require.False(t, res.HasStructuralErrors())
	s, res := skeleton.New(reg, 0).Build(req, dc)
	require.False(t, res.HasStructuralErrors())
	return dc, s
}

func TestBuild_TwoLanes(t *testing.T) {
	dc, s := prepare(t, plan.NormalizedRequest{
		Concern:         "ORTHOPEDICS",
		Differentiators: []string{"exclusion_criteria", "preventability"},
	})

	g, res := New(registry.Default()).Build(dc, s)
	require.False(t, res.HasStructuralErrors(), res.Structural.Errors)

	require.Len(t, g.Lanes, 2)
	assert.Equal(t, plan.ArchetypeExclusionHunter, g.Lanes[0].Archetype)
	assert.Equal(t, plan.ArchetypePreventabilityDetective, g.Lanes[1].Archetype)
	assert.Equal(t, []string{
		"exclusion_hunter:signal_enrichment",
		"exclusion_hunter:exclusion_scan",
		"exclusion_hunter:lane_summary",
	}, g.Lanes[0].NodeIDs)

	synth, ok := g.Node(plan.SynthesisNodeID)
	require.True(t, ok)
	assert.Equal(t, plan.NodeSynthesis, synth.Kind)
	assert.Equal(t, []string{g.Lanes[0].Terminal(), g.Lanes[1].Terminal()}, synth.DependsOn)
	assert.Equal(t, s.GroupIDs(), synth.Groups)

	scan, ok := g.Node("exclusion_hunter:exclusion_scan")
	require.True(t, ok)
	assert.Equal(t, []string{"exclusion_hunter:signal_enrichment"}, scan.DependsOn)
	assert.Equal(t, []plan.GroupID{plan.GroupExclusionCriteria}, scan.Groups)
	assert.Equal(t, []string{"exclusion_criteria"}, scan.Differentiators)
	assert.False(t, scan.Terminal)

	order, err := TopoOrder(g)
	require.NoError(t, err)
	assert.Equal(t, plan.SynthesisNodeID, order[len(order)-1])
}

func TestBuild_FocusFallsBackToSkeleton(t *testing.T) {
	// delay_driver_profiler focuses on delay_drivers and timing_intervals;
	// the default ranking skeleton has neither.
	dc, s := prepare(t, plan.NormalizedRequest{Concern: "GASTROENTEROLOGY", Differentiators: []string{"care_delays"}})
	g, res := New(registry.Default()).Build(dc, s)
	require.False(t, res.HasStructuralErrors())

	n, ok := g.Node("delay_driver_profiler:timeline_profile")
	require.True(t, ok)
	assert.Equal(t, s.GroupIDs(), n.Groups)
	assert.Len(t, g.Lanes[0].NodeIDs, 4)
}

func TestBuild_NoLanes(t *testing.T) {
	_, res := New(registry.Default()).Build(plan.DomainContext{}, plan.Skeleton{})
	assert.True(t, res.HasStructuralErrors())
}

func TestValidate(t *testing.T) {
	a := plan.ArchetypeProcessAuditor
	b := plan.ArchetypeDataScavenger
	valid := func() plan.TaskGraph {
		return plan.TaskGraph{
			Nodes: []plan.TaskNode{
				{ID: "process_auditor:x", Archetype: a, Kind: plan.NodeLane},
				{ID: "process_auditor:y", Archetype: a, Kind: plan.NodeLane, DependsOn: []string{"process_auditor:x"}, Terminal: true},
				{ID: "data_scavenger:x", Archetype: b, Kind: plan.NodeLane, Terminal: true},
				{ID: plan.SynthesisNodeID, Kind: plan.NodeSynthesis, DependsOn: []string{"process_auditor:y", "data_scavenger:x"}},
			},
			Lanes: []plan.Lane{
				{Archetype: a, NodeIDs: []string{"process_auditor:x", "process_auditor:y"}},
				{Archetype: b, NodeIDs: []string{"data_scavenger:x"}},
			},
		}
	}
	order := []plan.Archetype{a, b}

	require.NoError(t, Validate(valid(), order))

	tests := []struct {
		name   string
		mutate func(g *plan.TaskGraph)
		kind   error
	}{
		{
			name: "synthesis misses a terminal",
			mutate: func(g *plan.TaskGraph) {
				g.Nodes[3].DependsOn = []string{"process_auditor:y"}
			},
			kind: ErrInvalidGraph,
		},
		{
			name: "synthesis depends on non-terminal",
			mutate: func(g *plan.TaskGraph) {
				g.Nodes[3].DependsOn = []string{"process_auditor:x", "data_scavenger:x"}
			},
			kind: ErrInvalidGraph,
		},
		{
			name: "cross-lane edge",
			mutate: func(g *plan.TaskGraph) {
				g.Nodes[2].DependsOn = []string{"process_auditor:x"}
			},
			kind: ErrInvalidGraph,
		},
		{
			name: "duplicate id",
			mutate: func(g *plan.TaskGraph) {
				g.Nodes[2].ID = "process_auditor:x"
			},
			kind: ErrInvalidGraph,
		},
		{
			name: "lane order",
			mutate: func(g *plan.TaskGraph) {
				g.Lanes[0], g.Lanes[1] = g.Lanes[1], g.Lanes[0]
			},
			kind: ErrInvalidGraph,
		},
		{
			name: "missing synthesis",
			mutate: func(g *plan.TaskGraph) {
				g.Nodes = g.Nodes[:3]
			},
			kind: ErrInvalidGraph,
		},
		{
			name: "cycle inside a lane",
			mutate: func(g *plan.TaskGraph) {
				g.Nodes[0].DependsOn = []string{"process_auditor:y"}
			},
			kind: ErrCycleFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := valid()
			tt.mutate(&g)
			err := Validate(g, order)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			var ge *GraphError
			assert.ErrorAs(t, err, &ge)
		})
	}
}
