// Package research provides the sourced-fact bundles S1 attaches to a
// DomainContext. Providers are read-only from the pipeline's point of view;
// caching policy lives in the providers themselves.
package research

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// ErrNoCoverage is returned when a provider has nothing for a concern.
var ErrNoCoverage = errors.New("no research coverage")

// Provider fetches sourced facts for a concern.
type Provider interface {
	// Fetch returns facts for concern. domain may be empty when the domain
	// is not yet known.
	Fetch(ctx context.Context, concern string, domain plan.DomainID) (*plan.ResearchBundle, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, concern string, domain plan.DomainID) (*plan.ResearchBundle, error)

// Fetch implements Provider.
func (f ProviderFunc) Fetch(ctx context.Context, concern string, domain plan.DomainID) (*plan.ResearchBundle, error) {
	return f(ctx, concern, domain)
}

// Comparator detects disagreements between fact bundles returned by
// different sources. It is an extension point; the default reports nothing.
type Comparator interface {
	Compare(ctx context.Context, bundles map[string]*plan.ResearchBundle) ([]plan.Conflict, error)
}

// NoopComparator reports no conflicts.
type NoopComparator struct{}

// Compare implements Comparator.
func (NoopComparator) Compare(context.Context, map[string]*plan.ResearchBundle) ([]plan.Conflict, error) {
	return nil, nil
}
