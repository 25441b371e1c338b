// Package resolver implements S1: it maps a normalized request to a domain,
// an ordered list of archetype lanes, and the context bundles later stages
// ground their prompts in.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
	"github.com/fyrsmithlabs/planner/internal/research"
)

// Issue codes emitted by S1.
const (
	CodeUnresolvedDomain    = "unresolved_domain"
	CodeDomainFallback      = "domain_fallback"
	CodeArchetypeCap        = "archetype_cap"
	CodeUngroundedDiff      = "ungrounded_differentiator"
	CodeMissingRankContext  = "missing_rank_context"
	CodeResearchUnavailable = "research_unavailable"
	CodeResearchConflict    = "research_conflict"
	CodeLowResearchCoverage = "low_research_coverage"
)

const (
	lowCoverageThreshold      = 0.5
	justificationTriggeredFmt = "triggered by %s"
)

// Resolver builds DomainContexts.
type Resolver struct {
	reg      *registry.Registry
	research research.Provider
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithResearch attaches a research provider read during resolution.
func WithResearch(p research.Provider) Option {
	return func(r *Resolver) {
		r.research = p
	}
}

// New creates a resolver over reg.
func New(reg *registry.Registry, opts ...Option) *Resolver {
	r := &Resolver{reg: reg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve produces the DomainContext for req. Apart from the optional
// research read it is a pure function of the registry and the request.
func (r *Resolver) Resolve(ctx context.Context, req plan.NormalizedRequest) (plan.DomainContext, plan.ValidationResult) {
	f := plan.NewFindings(plan.StageDomain)
	var dc plan.DomainContext

	domain, ok := r.reg.ResolveDomain(req.Concern, req.DomainHint)
	if !ok {
		if len(r.triggers(req.Differentiators)) == 0 {
			f.Add(plan.TierStructural, plan.Issue{
				Code:    CodeUnresolvedDomain,
				Message: fmt.Sprintf("concern %q matches no domain and no differentiator selects an archetype", req.Concern),
				Path:    "concern",
			})
			return dc, f.Result()
		}
		fallback, has := r.reg.Fallback()
		if !has {
			f.Add(plan.TierStructural, plan.Issue{
				Code:    CodeUnresolvedDomain,
				Message: fmt.Sprintf("concern %q matches no domain and no fallback domain is configured", req.Concern),
				Path:    "concern",
			})
			return dc, f.Result()
		}
		f.Semantic(CodeDomainFallback, "concern %q matches no domain; using %s", req.Concern, fallback.ID)
		domain = fallback
	}

	spec, err := r.reg.Domain(domain.ID)
	if err != nil {
		f.Structural(CodeUnresolvedDomain, "domain %s: %v", domain.ID, err)
		return dc, f.Result()
	}
	dc.Domain = domain

	recognized := map[string]bool{}
	for _, id := range spec.Differentiators {
		recognized[id] = true
	}
	var grounded []string
	for _, id := range req.Differentiators {
		if !recognized[id] {
			f.Semantic(CodeUngroundedDiff, "differentiator %s is not defined for %s; ignored", id, domain.ID)
			continue
		}
		grounded = append(grounded, id)
		if d, ok := r.reg.Differentiator(id); ok {
			dc.Differentiators = append(dc.Differentiators, d.Differentiator())
		}
	}

	dc.Archetypes = r.assign(f, grounded, spec)
	dc.PrimaryArchetype = dc.Archetypes[0].Archetype

	for _, b := range spec.Benchmarks {
		dc.Benchmarks = append(dc.Benchmarks, plan.Benchmark{Name: b.Name, Value: b.Value, Source: b.Source})
	}
	dc.DomainRules = append([]string(nil), spec.Rules...)

	switch domain.Kind {
	case plan.KindSafety:
		if spec.Bundle != nil {
			dc.Safety = &plan.SafetyBundle{
				Name:     spec.Bundle.Name,
				Source:   spec.Bundle.Source,
				Elements: append([]string(nil), spec.Bundle.Elements...),
			}
		}
	case plan.KindRanking:
		dc.RankingExpected = true
		switch {
		case req.Ranking != nil:
			dc.Ranking = &plan.RankingContext{
				Rank:           req.Ranking.Rank,
				Source:         req.Ranking.Source,
				SignalEmphasis: append([]string(nil), req.Ranking.SignalEmphasis...),
			}
		case spec.Ranking != nil:
			dc.Ranking = &plan.RankingContext{
				Rank:           spec.Ranking.Rank,
				Source:         spec.Ranking.Source,
				SignalEmphasis: append([]string(nil), spec.Ranking.SignalEmphasis...),
			}
		default:
			f.Semantic(CodeMissingRankContext, "no rank context available for ranking domain %s", domain.ID)
		}
	}

	if req.Packet != nil {
		p := req.Packet.Clone()
		dc.Packet = &p
	}

	if r.research != nil {
		r.attachResearch(ctx, f, req, &dc)
	}
	return dc, f.Result()
}

// triggers maps each archetype to the differentiators that select it.
func (r *Resolver) triggers(diffs []string) map[plan.Archetype][]string {
	into := map[plan.Archetype][]string{}
	for _, id := range diffs {
		d, ok := r.reg.Differentiator(id)
		if !ok {
			continue
		}
		into[d.Archetype] = append(into[d.Archetype], id)
	}
	return into
}

func (r *Resolver) assign(f *plan.Findings, diffs []string, spec registry.DomainSpec) []plan.ArchetypeAssignment {
	trig := r.triggers(diffs)
	if len(trig) == 0 {
		return []plan.ArchetypeAssignment{{
			Archetype:     spec.DefaultArchetype,
			Justification: plan.JustificationDomainDefault,
		}}
	}

	found := make([]plan.Archetype, 0, len(trig))
	for a := range trig {
		found = append(found, a)
	}
	ordered := plan.SortArchetypes(found)
	if len(ordered) > plan.MaxArchetypes {
		dropped := ordered[plan.MaxArchetypes:]
		names := make([]string, len(dropped))
		for i, a := range dropped {
			names[i] = a.DisplayName()
		}
		f.Semantic(CodeArchetypeCap, "%d archetypes matched; dropped lowest priority %s", len(ordered), strings.Join(names, ", "))
		ordered = ordered[:plan.MaxArchetypes]
	}

	out := make([]plan.ArchetypeAssignment, len(ordered))
	for i, a := range ordered {
		out[i] = plan.ArchetypeAssignment{
			Archetype:     a,
			Justification: fmt.Sprintf(justificationTriggeredFmt, strings.Join(trig[a], ", ")),
			Triggers:      append([]string(nil), trig[a]...),
		}
	}
	return out
}

func (r *Resolver) attachResearch(ctx context.Context, f *plan.Findings, req plan.NormalizedRequest, dc *plan.DomainContext) {
	b, err := r.research.Fetch(ctx, req.Concern, dc.Domain.ID)
	if err != nil {
		f.Semantic(CodeResearchUnavailable, "research provider failed for %s: %v", req.Concern, err)
		return
	}
	if b == nil {
		return
	}
	bundle := *b
	bundle.Facts = append([]plan.SourcedFact(nil), b.Facts...)
	bundle.Conflicts = append([]plan.Conflict(nil), b.Conflicts...)
	for _, c := range bundle.Conflicts {
		f.Clinical(CodeResearchConflict, "sources %s disagree on %s: %s", strings.Join(c.Sources, ", "), c.Topic, c.Detail)
	}
	if bundle.Coverage < lowCoverageThreshold {
		f.Clinical(CodeLowResearchCoverage, "research coverage %.2f below %.2f", bundle.Coverage, lowCoverageThreshold)
	}
	dc.Research = &bundle
}
