// Package registry holds the immutable rule tables that drive planning:
// domains, differentiators, archetype lane templates, group vocabularies
// and review phases.
//
// A Registry is constructed once at process start and passed explicitly to
// every component that reads it. It is never mutated after construction and
// every getter returns a copy.
package registry

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

var (
	// ErrUnknownDomain is returned when a lookup names no registered domain.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrInvalidTables is returned when rule tables fail validation.
	ErrInvalidTables = errors.New("invalid rule tables")
)

var metricPattern = regexp.MustCompile(`^[A-Z][0-9]`)

// Registry is a read-only view over normalized rule tables.
type Registry struct {
	version         string
	fallback        plan.DomainID
	domains         []DomainSpec
	byID            map[plan.DomainID]int
	byAlias         map[string]plan.DomainID
	byPrefix        map[string]plan.DomainID
	groups          []GroupSpec
	groupByID       map[plan.GroupID]GroupSpec
	archetypes      map[plan.Archetype]ArchetypeSpec
	differentiators []DifferentiatorSpec
	diffByID        map[string]DifferentiatorSpec
	phases          map[plan.DomainKind][]plan.ReviewPhase
}

// New validates tables and builds a registry over them.
func New(t Tables) (*Registry, error) {
	norm, err := t.Normalized()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		version:         norm.Version,
		fallback:        norm.FallbackDomain,
		domains:         norm.Domains,
		byID:            make(map[plan.DomainID]int, len(norm.Domains)),
		byAlias:         map[string]plan.DomainID{},
		byPrefix:        map[string]plan.DomainID{},
		groups:          norm.Groups,
		groupByID:       make(map[plan.GroupID]GroupSpec, len(norm.Groups)),
		archetypes:      make(map[plan.Archetype]ArchetypeSpec, len(norm.Archetypes)),
		differentiators: norm.Differentiators,
		diffByID:        make(map[string]DifferentiatorSpec, len(norm.Differentiators)),
		phases:          norm.Phases,
	}
	for i, d := range norm.Domains {
		r.byID[d.ID] = i
		for _, a := range d.Aliases {
			r.byAlias[a] = d.ID
		}
		if d.MetricPrefix != "" {
			r.byPrefix[d.MetricPrefix] = d.ID
		}
	}
	for _, g := range norm.Groups {
		r.groupByID[g.ID] = g
	}
	for _, a := range norm.Archetypes {
		r.archetypes[a.ID] = a
	}
	for _, d := range norm.Differentiators {
		r.diffByID[d.ID] = d
	}
	return r, nil
}

// Version returns the rule-table version string.
func (r *Registry) Version() string {
	return r.version
}

// Domain returns the full rule set for id.
func (r *Registry) Domain(id plan.DomainID) (DomainSpec, error) {
	i, ok := r.byID[id]
	if !ok {
		return DomainSpec{}, ErrUnknownDomain
	}
	return cloneDomain(r.domains[i]), nil
}

// Domains returns every registered domain in table order.
func (r *Registry) Domains() []plan.Domain {
	out := make([]plan.Domain, len(r.domains))
	for i, d := range r.domains {
		out[i] = d.Domain()
	}
	return out
}

// Fallback returns the domain used when only archetype evidence is present.
func (r *Registry) Fallback() (plan.Domain, bool) {
	if r.fallback == "" {
		return plan.Domain{}, false
	}
	return r.domains[r.byID[r.fallback]].Domain(), true
}

// ResolveDomain is the single domain resolution function. It tries, in
// order: the hint as id or alias, the concern as id or alias, each token of
// the concern as an alias, and finally the metric prefix table for concerns
// that look like metric codes. Unknown metric prefixes resolve to the
// fallback domain.
func (r *Registry) ResolveDomain(concern, hint string) (plan.Domain, bool) {
	if id, ok := r.lookupAlias(hint); ok {
		return r.domains[r.byID[id]].Domain(), true
	}
	c := canonicalAlias(concern)
	if c == "" {
		return plan.Domain{}, false
	}
	if id, ok := r.byAlias[c]; ok {
		return r.domains[r.byID[id]].Domain(), true
	}
	for _, tok := range strings.Split(c, "_") {
		if id, ok := r.byAlias[tok]; ok {
			return r.domains[r.byID[id]].Domain(), true
		}
	}
	if metricPattern.MatchString(c) {
		if id, ok := r.byPrefix[c[:1]]; ok {
			return r.domains[r.byID[id]].Domain(), true
		}
		return r.Fallback()
	}
	return plan.Domain{}, false
}

// DomainForMetric returns the specialty for a metric code such as "I25".
func (r *Registry) DomainForMetric(metric string) (plan.Domain, bool) {
	m := strings.ToUpper(strings.TrimSpace(metric))
	if !metricPattern.MatchString(m) {
		return plan.Domain{}, false
	}
	if id, ok := r.byPrefix[m[:1]]; ok {
		return r.domains[r.byID[id]].Domain(), true
	}
	return r.Fallback()
}

func (r *Registry) lookupAlias(v string) (plan.DomainID, bool) {
	a := canonicalAlias(v)
	if a == "" {
		return "", false
	}
	id, ok := r.byAlias[a]
	return id, ok
}

// Differentiator returns the differentiator with id.
func (r *Registry) Differentiator(id string) (DifferentiatorSpec, bool) {
	d, ok := r.diffByID[canonicalKey(id)]
	if !ok {
		return DifferentiatorSpec{}, false
	}
	d.Synonyms = append([]string(nil), d.Synonyms...)
	return d, true
}

// Differentiators returns every differentiator in table order.
func (r *Registry) Differentiators() []DifferentiatorSpec {
	out := make([]DifferentiatorSpec, len(r.differentiators))
	for i, d := range r.differentiators {
		d.Synonyms = append([]string(nil), d.Synonyms...)
		out[i] = d
	}
	return out
}

// CanonicalDifferentiator maps an id or synonym to a differentiator id.
func (r *Registry) CanonicalDifferentiator(v string) (string, bool) {
	key := canonicalKey(v)
	if _, ok := r.diffByID[key]; ok {
		return key, true
	}
	phrase := strings.ToLower(strings.TrimSpace(v))
	for _, d := range r.differentiators {
		for _, s := range d.Synonyms {
			if phrase == s {
				return d.ID, true
			}
		}
	}
	return "", false
}

// MatchDifferentiators scans free text for differentiator synonyms and
// returns the matched ids sorted.
func (r *Registry) MatchDifferentiators(text string) []string {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return nil
	}
	var out []string
	for _, d := range r.differentiators {
		for _, s := range d.Synonyms {
			if strings.Contains(lower, s) {
				out = append(out, d.ID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Archetype returns the lane template for a.
func (r *Registry) Archetype(a plan.Archetype) (ArchetypeSpec, bool) {
	spec, ok := r.archetypes[a]
	if !ok {
		return ArchetypeSpec{}, false
	}
	spec.Focus = append([]plan.GroupID(nil), spec.Focus...)
	spec.Tasks = append([]TaskSpec(nil), spec.Tasks...)
	return spec, true
}

// Group returns the vocabulary entry for id.
func (r *Registry) Group(id plan.GroupID) (GroupSpec, bool) {
	g, ok := r.groupByID[id]
	return g, ok
}

// Vocabulary returns the closed group-id set for a domain kind in table order.
func (r *Registry) Vocabulary(kind plan.DomainKind) []plan.GroupID {
	var out []plan.GroupID
	for _, g := range r.groups {
		if g.Kind == kind {
			out = append(out, g.ID)
		}
	}
	return out
}

// DefaultGroups returns the five default group ids for a domain kind.
func (r *Registry) DefaultGroups(kind plan.DomainKind) []plan.GroupID {
	var out []plan.GroupID
	for _, g := range r.groups {
		if g.Kind == kind && g.Default {
			out = append(out, g.ID)
		}
	}
	return out
}

// InVocabulary reports whether id belongs to kind's vocabulary.
func (r *Registry) InVocabulary(kind plan.DomainKind, id plan.GroupID) bool {
	g, ok := r.groupByID[id]
	return ok && g.Kind == kind
}

// Phases returns the review phases for a domain kind.
func (r *Registry) Phases(kind plan.DomainKind) []plan.ReviewPhase {
	return append([]plan.ReviewPhase(nil), r.phases[kind]...)
}

func cloneDomain(d DomainSpec) DomainSpec {
	out := d
	out.Aliases = append([]string(nil), d.Aliases...)
	out.Differentiators = append([]string(nil), d.Differentiators...)
	out.Benchmarks = append([]BenchmarkSpec(nil), d.Benchmarks...)
	out.Rules = append([]string(nil), d.Rules...)
	if d.Bundle != nil {
		b := *d.Bundle
		b.Elements = append([]string(nil), d.Bundle.Elements...)
		out.Bundle = &b
	}
	if d.Ranking != nil {
		rk := *d.Ranking
		rk.SignalEmphasis = append([]string(nil), d.Ranking.SignalEmphasis...)
		out.Ranking = &rk
	}
	return out
}
