package skeleton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
)

func domainContext(t *testing.T, id plan.DomainID) plan.DomainContext {
	t.Helper()
	spec, err := registry.Default().Domain(id)
	require.NoError(t, err)
	return plan.DomainContext{Domain: spec.Domain()}
}

func TestBuild_EveryDomainHasFiveGroupsFromItsVocabulary(t *testing.T) {
	reg := registry.Default()
	b := New(reg, 0)

	for _, d := range reg.Domains() {
		t.Run(string(d.ID), func(t *testing.T) {
			dc := plan.DomainContext{Domain: d}
			spec, err := reg.Domain(d.ID)
			require.NoError(t, err)
			if spec.Ranking != nil {
				dc.Ranking = &plan.RankingContext{Rank: spec.Ranking.Rank, SignalEmphasis: spec.Ranking.SignalEmphasis}
			}

			s, res := b.Build(plan.NormalizedRequest{}, dc)
			assert.False(t, res.HasStructuralErrors())
			require.Len(t, s.Groups, plan.SkeletonSize)
			vocab := reg.Vocabulary(d.Kind)
			for _, g := range s.Groups {
				assert.Contains(t, vocab, g.ID)
				assert.NotEmpty(t, g.Title)
			}
		})
	}
}

func TestBuild_SafetyGroups(t *testing.T) {
	s, res := New(registry.Default(), 0).Build(plan.NormalizedRequest{}, domainContext(t, "CLABSI"))
	require.False(t, res.HasStructuralErrors())
	assert.Equal(t, []plan.GroupID{
		plan.GroupRuleIn, plan.GroupRuleOut, plan.GroupDelayDrivers,
		plan.GroupDocumentationGaps, plan.GroupBundleGaps,
	}, s.GroupIDs())
}

func TestBuild_RankingEmphasis(t *testing.T) {
	b := New(registry.Default(), 20)
	dc := domainContext(t, "ORTHOPEDICS")

	dc.Ranking = &plan.RankingContext{Rank: 5, SignalEmphasis: []string{"timing_intervals", "bogus", "timing_intervals", "outcome_risk"}}
	s, res := b.Build(plan.NormalizedRequest{}, dc)
	require.False(t, res.HasStructuralErrors())
	assert.Equal(t, []plan.GroupID{
		plan.GroupTimingIntervals, plan.GroupOutcomeRisk,
		plan.GroupCoreCriteria, plan.GroupExclusionCriteria, plan.GroupProcessCompliance,
	}, s.GroupIDs())
	require.Len(t, res.Semantic.Errors, 1)
	assert.Equal(t, CodeUnknownEmphasis, res.Semantic.Errors[0].Code)

	// Below the threshold, defaults apply.
	dc.Ranking = &plan.RankingContext{Rank: 45, SignalEmphasis: []string{"timing_intervals"}}
	s, _ = b.Build(plan.NormalizedRequest{}, dc)
	assert.Equal(t, registry.Default().DefaultGroups(plan.KindRanking), s.GroupIDs())

	// More emphasis than slots is truncated to five.
	dc.Ranking = &plan.RankingContext{Rank: 1, SignalEmphasis: []string{
		"timing_intervals", "documentation_quality", "data_integrity", "outcome_risk", "process_compliance", "core_criteria",
	}}
	s, _ = b.Build(plan.NormalizedRequest{}, dc)
	assert.Len(t, s.Groups, plan.SkeletonSize)
	assert.NotContains(t, s.GroupIDs(), plan.GroupCoreCriteria)
}

func TestBuild_PacketHints(t *testing.T) {
	dc := domainContext(t, "CAUTI")
	dc.Packet = &plan.SemanticPacket{GroupHints: map[plan.GroupID][]string{
		plan.GroupRuleOut:      {"asymptomatic bacteriuria"},
		plan.GroupCoreCriteria: {"wrong vocabulary"},
	}}

	s, res := New(registry.Default(), 0).Build(plan.NormalizedRequest{}, dc)
	require.False(t, res.HasStructuralErrors())
	require.Len(t, res.Semantic.Errors, 1)
	assert.Equal(t, CodeUnknownHintGroup, res.Semantic.Errors[0].Code)
	assert.Equal(t, []string{"asymptomatic bacteriuria"}, s.Groups[1].Hints)
}

func TestBuild_NoDomainHalts(t *testing.T) {
	_, res := New(registry.Default(), 0).Build(plan.NormalizedRequest{}, plan.DomainContext{})
	assert.True(t, res.HasStructuralErrors())
}

func TestValidate(t *testing.T) {
	reg := registry.Default()
	groups := func(ids ...plan.GroupID) []plan.SignalGroup {
		out := make([]plan.SignalGroup, len(ids))
		for i, id := range ids {
			out[i] = plan.SignalGroup{ID: id}
		}
		return out
	}

	tests := []struct {
		name string
		s    plan.Skeleton
		want []string
	}{
		{
			name: "valid safety",
			s:    plan.Skeleton{Kind: plan.KindSafety, Groups: groups("rule_in", "rule_out", "delay_drivers", "documentation_gaps", "bundle_gaps")},
		},
		{
			name: "too few",
			s:    plan.Skeleton{Kind: plan.KindSafety, Groups: groups("rule_in", "rule_out")},
			want: []string{CodeCardinality},
		},
		{
			name: "mixed vocabulary",
			s:    plan.Skeleton{Kind: plan.KindSafety, Groups: groups("rule_in", "rule_out", "delay_drivers", "documentation_gaps", "core_criteria")},
			want: []string{CodeMixedVocabulary},
		},
		{
			name: "unknown and duplicate",
			s:    plan.Skeleton{Kind: plan.KindRanking, Groups: groups("core_criteria", "core_criteria", "outcome_risk", "data_integrity", "made_up")},
			want: []string{CodeDuplicateGroup, CodeUnknownGroup},
		},
		{
			name: "six groups",
			s:    plan.Skeleton{Kind: plan.KindRanking, Groups: groups("core_criteria", "exclusion_criteria", "outcome_risk", "process_compliance", "data_integrity", "timing_intervals")},
			want: []string{CodeCardinality},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, i := range Validate(tt.s, reg) {
				got = append(got, i.Code)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
