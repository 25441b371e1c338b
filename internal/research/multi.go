package research

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// Source is a named provider participating in a MultiProvider.
type Source struct {
	Name     string
	Provider Provider
}

// MultiProvider queries several sources, merges their facts and runs the
// comparator across the per-source bundles.
type MultiProvider struct {
	sources    []Source
	comparator Comparator
}

// NewMultiProvider creates a provider over sources. A nil comparator means
// NoopComparator.
func NewMultiProvider(comparator Comparator, sources ...Source) *MultiProvider {
	if comparator == nil {
		comparator = NoopComparator{}
	}
	return &MultiProvider{sources: sources, comparator: comparator}
}

// Fetch implements Provider. It fails only when every source fails. Sources
// returning a nil bundle are skipped; when no source has a bundle and none
// failed, Fetch returns nil.
func (m *MultiProvider) Fetch(ctx context.Context, concern string, domain plan.DomainID) (*plan.ResearchBundle, error) {
	bundles := make(map[string]*plan.ResearchBundle, len(m.sources))
	var errs []string
	empty := 0
	for _, s := range m.sources {
		b, err := s.Provider.Fetch(ctx, concern, domain)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name, err))
			continue
		}
		if b == nil {
			empty++
			continue
		}
		bundles[s.Name] = b
	}
	if len(bundles) == 0 {
		if len(errs) == 0 {
			if empty > 0 {
				return nil, nil
			}
			return nil, ErrNoCoverage
		}
		return nil, fmt.Errorf("all research sources failed: %s", strings.Join(errs, "; "))
	}

	names := make([]string, 0, len(bundles))
	for n := range bundles {
		names = append(names, n)
	}
	sort.Strings(names)

	out := &plan.ResearchBundle{CacheStatus: plan.CacheCached}
	seen := map[string]bool{}
	for _, n := range names {
		b := bundles[n]
		for _, f := range b.Facts {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			out.Facts = append(out.Facts, f)
		}
		if b.CacheStatus == plan.CacheLive {
			out.CacheStatus = plan.CacheLive
		}
		if b.Coverage > out.Coverage {
			out.Coverage = b.Coverage
		}
		if b.FetchedAt.After(out.FetchedAt) {
			out.FetchedAt = b.FetchedAt
		}
		out.Conflicts = append(out.Conflicts, b.Conflicts...)
	}

	conflicts, err := m.comparator.Compare(ctx, bundles)
	if err != nil {
		return nil, fmt.Errorf("comparing research sources: %w", err)
	}
	out.Conflicts = append(out.Conflicts, conflicts...)
	return out, nil
}
