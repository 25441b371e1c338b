package research

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
)

// StaticProvider serves facts derived from the registry's rule tables:
// domain rules, benchmarks and bundle elements.
type StaticProvider struct {
	reg *registry.Registry
	now func() time.Time
}

// NewStaticProvider creates a provider over reg.
func NewStaticProvider(reg *registry.Registry) *StaticProvider {
	return &StaticProvider{reg: reg, now: time.Now}
}

// Fetch implements Provider.
func (p *StaticProvider) Fetch(ctx context.Context, concern string, domain plan.DomainID) (*plan.ResearchBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if domain == "" {
		d, ok := p.reg.ResolveDomain(concern, "")
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoCoverage, concern)
		}
		domain = d.ID
	}
	spec, err := p.reg.Domain(domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCoverage, domain)
	}

	var facts []plan.SourcedFact
	for i, r := range spec.Rules {
		facts = append(facts, plan.SourcedFact{
			ID:     fmt.Sprintf("%s-rule-%d", spec.ID, i+1),
			Source: "registry",
			Text:   r,
		})
	}
	for i, b := range spec.Benchmarks {
		facts = append(facts, plan.SourcedFact{
			ID:     fmt.Sprintf("%s-benchmark-%d", spec.ID, i+1),
			Source: b.Source,
			Text:   fmt.Sprintf("%s: %s", b.Name, b.Value),
		})
	}
	if spec.Bundle != nil {
		for i, e := range spec.Bundle.Elements {
			facts = append(facts, plan.SourcedFact{
				ID:     fmt.Sprintf("%s-bundle-%d", spec.ID, i+1),
				Source: spec.Bundle.Source,
				Text:   fmt.Sprintf("%s element: %s", spec.Bundle.Name, e),
			})
		}
	}

	coverage := 0.5
	if (spec.Kind == plan.KindSafety && spec.Bundle != nil) || spec.Ranking != nil {
		coverage = 1.0
	}
	return &plan.ResearchBundle{
		Facts:       facts,
		CacheStatus: plan.CacheLive,
		Coverage:    coverage,
		FetchedAt:   p.now(),
	}, nil
}
