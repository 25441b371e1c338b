// Package skeleton implements S2: the fixed five-group signal skeleton for
// a resolved domain.
package skeleton

import (
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
)

// DefaultTopRankThreshold is the rank at or above which ranking signal
// emphasis reshapes the skeleton.
const DefaultTopRankThreshold = 20

// Issue codes emitted by S2.
const (
	CodeNoDomain         = "no_domain"
	CodeCardinality      = "group_cardinality"
	CodeUnknownGroup     = "unknown_group"
	CodeMixedVocabulary  = "mixed_vocabulary"
	CodeDuplicateGroup   = "duplicate_group"
	CodeUnknownEmphasis  = "unknown_emphasis_group"
	CodeUnknownHintGroup = "unknown_hint_group"
)

// Builder builds skeletons.
type Builder struct {
	reg       *registry.Registry
	threshold int
}

// New creates a builder. threshold is the top-rank cutoff; zero or less
// selects DefaultTopRankThreshold.
func New(reg *registry.Registry, threshold int) *Builder {
	if threshold <= 0 {
		threshold = DefaultTopRankThreshold
	}
	return &Builder{reg: reg, threshold: threshold}
}

// HighlyRanked reports whether rc should drive group selection.
func (b *Builder) HighlyRanked(rc *plan.RankingContext) bool {
	return rc != nil && rc.Rank > 0 && rc.Rank <= b.threshold && len(rc.SignalEmphasis) > 0
}

// Build produces the skeleton for dc.
func (b *Builder) Build(req plan.NormalizedRequest, dc plan.DomainContext) (plan.Skeleton, plan.ValidationResult) {
	f := plan.NewFindings(plan.StageSkeleton)
	if dc.Domain.IsZero() {
		f.Structural(CodeNoDomain, "domain context has no resolved domain")
		return plan.Skeleton{}, f.Result()
	}

	var ids []plan.GroupID
	switch dc.Domain.Kind {
	case plan.KindRanking:
		ids = b.rankingGroups(f, dc.Ranking)
	default:
		ids = b.reg.DefaultGroups(dc.Domain.Kind)
	}

	s := plan.Skeleton{Domain: dc.Domain.ID, Kind: dc.Domain.Kind}
	for _, id := range ids {
		g := plan.SignalGroup{ID: id, Signals: []plan.Signal{}}
		if spec, ok := b.reg.Group(id); ok {
			g.Title = spec.Title
		}
		s.Groups = append(s.Groups, g)
	}

	packet := dc.Packet
	if packet == nil {
		packet = req.Packet
	}
	if packet != nil {
		b.attachHints(f, &s, packet.GroupHints)
	}

	for _, issue := range Validate(s, b.reg) {
		f.Add(plan.TierStructural, issue)
	}
	return s, f.Result()
}

func (b *Builder) rankingGroups(f *plan.Findings, rc *plan.RankingContext) []plan.GroupID {
	defaults := b.reg.DefaultGroups(plan.KindRanking)
	if !b.HighlyRanked(rc) {
		return defaults
	}
	seen := map[plan.GroupID]bool{}
	var ids []plan.GroupID
	for _, raw := range rc.SignalEmphasis {
		id := plan.GroupID(raw)
		if !b.reg.InVocabulary(plan.KindRanking, id) {
			f.Semantic(CodeUnknownEmphasis, "ranking emphasis %q is not a ranking signal group; dropped", raw)
			continue
		}
		if seen[id] || len(ids) == plan.SkeletonSize {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for _, id := range defaults {
		if len(ids) == plan.SkeletonSize {
			break
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (b *Builder) attachHints(f *plan.Findings, s *plan.Skeleton, hints map[plan.GroupID][]string) {
	keys := make([]string, 0, len(hints))
	for k := range hints {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		id := plan.GroupID(k)
		idx := -1
		for i, g := range s.Groups {
			if g.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			f.Semantic(CodeUnknownHintGroup, "semantic packet hints target group %s outside the skeleton; dropped", id)
			continue
		}
		s.Groups[idx].Hints = append(s.Groups[idx].Hints, hints[id]...)
	}
}

// Validate checks the closed-set invariants of a skeleton: exactly five
// groups, unique ids, all drawn from the domain kind's vocabulary.
func Validate(s plan.Skeleton, reg *registry.Registry) []plan.Issue {
	var issues []plan.Issue
	add := func(code, format string, args ...any) {
		issues = append(issues, plan.Issue{Code: code, Message: fmt.Sprintf(format, args...), Stage: plan.StageSkeleton})
	}

	if !s.Kind.Valid() {
		add(CodeUnknownGroup, "skeleton has unknown domain kind %q", s.Kind)
		return issues
	}
	if len(s.Groups) != plan.SkeletonSize {
		add(CodeCardinality, "skeleton has %d groups, want exactly %d", len(s.Groups), plan.SkeletonSize)
	}
	seen := map[plan.GroupID]bool{}
	for i, g := range s.Groups {
		if seen[g.ID] {
			add(CodeDuplicateGroup, "group %s appears more than once", g.ID)
		}
		seen[g.ID] = true
		if reg.InVocabulary(s.Kind, g.ID) {
			continue
		}
		if spec, ok := reg.Group(g.ID); ok {
			add(CodeMixedVocabulary, "group %s at index %d belongs to the %s vocabulary, not %s", g.ID, i, spec.Kind, s.Kind)
			continue
		}
		add(CodeUnknownGroup, "group %s at index %d is not a %s signal group", g.ID, i, s.Kind)
	}
	return issues
}
