package registry

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// Tables is the raw rule-table document. It is decoded once, normalized, and
// then only ever read through a Registry.
type Tables struct {
	Version         string                                 `yaml:"version"`
	FallbackDomain  plan.DomainID                          `yaml:"fallback_domain"`
	Groups          []GroupSpec                            `yaml:"groups"`
	Archetypes      []ArchetypeSpec                        `yaml:"archetypes"`
	Differentiators []DifferentiatorSpec                   `yaml:"differentiators"`
	Phases          map[plan.DomainKind][]plan.ReviewPhase `yaml:"phases"`
	Domains         []DomainSpec                           `yaml:"domains"`
}

// GroupSpec defines one signal group in a domain kind's vocabulary.
type GroupSpec struct {
	ID      plan.GroupID    `yaml:"id"`
	Kind    plan.DomainKind `yaml:"kind"`
	Title   string          `yaml:"title"`
	Default bool            `yaml:"default"`
}

// TaskSpec is one task of an archetype's lane template.
type TaskSpec struct {
	Name        string `yaml:"name"`
	Instruction string `yaml:"instruction"`
}

// ArchetypeSpec is the lane template and system instruction of an archetype.
type ArchetypeSpec struct {
	ID          plan.Archetype `yaml:"id"`
	Instruction string         `yaml:"instruction"`
	Focus       []plan.GroupID `yaml:"focus"`
	Tasks       []TaskSpec     `yaml:"tasks"`
}

// DifferentiatorSpec maps a differentiator to the archetype it triggers.
type DifferentiatorSpec struct {
	ID        string         `yaml:"id"`
	Label     string         `yaml:"label"`
	Archetype plan.Archetype `yaml:"archetype"`
	Synonyms  []string       `yaml:"synonyms"`
}

// Differentiator converts the spec to the pipeline type.
func (d DifferentiatorSpec) Differentiator() plan.Differentiator {
	return plan.Differentiator{ID: d.ID, Label: d.Label, Archetype: d.Archetype}
}

// RankSpec is the registry's ranking entry for a specialty.
type RankSpec struct {
	Rank           int      `yaml:"rank"`
	Source         string   `yaml:"source"`
	SignalEmphasis []string `yaml:"signal_emphasis"`
}

// BundleSpec is a safety prevention bundle.
type BundleSpec struct {
	Name     string   `yaml:"name"`
	Source   string   `yaml:"source"`
	Elements []string `yaml:"elements"`
}

// BenchmarkSpec is a reference target.
type BenchmarkSpec struct {
	Name   string `yaml:"name"`
	Value  string `yaml:"value"`
	Source string `yaml:"source"`
}

// DomainSpec is the full rule set of one domain.
type DomainSpec struct {
	ID               plan.DomainID   `yaml:"id"`
	Kind             plan.DomainKind `yaml:"kind"`
	Name             string          `yaml:"name"`
	Aliases          []string        `yaml:"aliases"`
	MetricPrefix     string          `yaml:"metric_prefix"`
	DefaultArchetype plan.Archetype  `yaml:"default_archetype"`
	Differentiators  []string        `yaml:"differentiators"`
	Benchmarks       []BenchmarkSpec `yaml:"benchmarks"`
	Rules            []string        `yaml:"rules"`
	Bundle           *BundleSpec     `yaml:"bundle"`
	Ranking          *RankSpec       `yaml:"ranking"`
}

// Domain returns the tagged variant for the spec.
func (d DomainSpec) Domain() plan.Domain {
	return plan.Domain{ID: d.ID, Kind: d.Kind, Name: d.Name}
}

// Normalized returns a copy with canonical casing and validated references.
func (t Tables) Normalized() (Tables, error) {
	out := t
	if strings.TrimSpace(out.Version) == "" {
		return Tables{}, invalidf("version is required")
	}

	groups := make(map[plan.GroupID]GroupSpec, len(t.Groups))
	defaults := map[plan.DomainKind]int{}
	out.Groups = make([]GroupSpec, 0, len(t.Groups))
	for _, g := range t.Groups {
		if g.ID == "" {
			return Tables{}, invalidf("group with empty id")
		}
		if !g.Kind.Valid() {
			return Tables{}, invalidf("group %s: unknown kind %q", g.ID, g.Kind)
		}
		if _, dup := groups[g.ID]; dup {
			return Tables{}, invalidf("group %s defined twice", g.ID)
		}
		groups[g.ID] = g
		if g.Default {
			defaults[g.Kind]++
		}
		out.Groups = append(out.Groups, g)
	}
	for _, kind := range []plan.DomainKind{plan.KindSafety, plan.KindRanking} {
		if defaults[kind] != plan.SkeletonSize {
			return Tables{}, invalidf("%s vocabulary has %d default groups, want %d", kind, defaults[kind], plan.SkeletonSize)
		}
	}

	archetypes := make(map[plan.Archetype]bool, len(t.Archetypes))
	out.Archetypes = make([]ArchetypeSpec, 0, len(t.Archetypes))
	for _, a := range t.Archetypes {
		if !a.ID.Valid() {
			return Tables{}, invalidf("unknown archetype %q", a.ID)
		}
		if archetypes[a.ID] {
			return Tables{}, invalidf("archetype %s defined twice", a.ID)
		}
		if len(a.Tasks) < 2 || len(a.Tasks) > 4 {
			return Tables{}, invalidf("archetype %s: lane has %d tasks, want 2-4", a.ID, len(a.Tasks))
		}
		seen := map[string]bool{}
		for _, task := range a.Tasks {
			name := strings.TrimSpace(task.Name)
			if name == "" || strings.Contains(name, ":") {
				return Tables{}, invalidf("archetype %s: invalid task name %q", a.ID, task.Name)
			}
			if seen[name] {
				return Tables{}, invalidf("archetype %s: task %s defined twice", a.ID, name)
			}
			seen[name] = true
		}
		for _, g := range a.Focus {
			if _, ok := groups[g]; !ok {
				return Tables{}, invalidf("archetype %s: unknown focus group %s", a.ID, g)
			}
		}
		archetypes[a.ID] = true
		out.Archetypes = append(out.Archetypes, a)
	}
	for _, a := range plan.CanonicalOrder() {
		if !archetypes[a] {
			return Tables{}, invalidf("archetype %s has no lane template", a)
		}
	}

	diffs := make(map[string]bool, len(t.Differentiators))
	out.Differentiators = make([]DifferentiatorSpec, 0, len(t.Differentiators))
	for _, d := range t.Differentiators {
		d.ID = canonicalKey(d.ID)
		if d.ID == "" {
			return Tables{}, invalidf("differentiator with empty id")
		}
		if diffs[d.ID] {
			return Tables{}, invalidf("differentiator %s defined twice", d.ID)
		}
		if !d.Archetype.Valid() {
			return Tables{}, invalidf("differentiator %s: unknown archetype %q", d.ID, d.Archetype)
		}
		syn := make([]string, 0, len(d.Synonyms))
		for _, s := range d.Synonyms {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				syn = append(syn, s)
			}
		}
		d.Synonyms = syn
		diffs[d.ID] = true
		out.Differentiators = append(out.Differentiators, d)
	}

	for _, kind := range []plan.DomainKind{plan.KindSafety, plan.KindRanking} {
		if len(t.Phases[kind]) == 0 {
			return Tables{}, invalidf("no review phases for %s domains", kind)
		}
	}

	ids := map[plan.DomainID]bool{}
	aliases := map[string]plan.DomainID{}
	prefixes := map[string]plan.DomainID{}
	out.Domains = make([]DomainSpec, 0, len(t.Domains))
	for _, d := range t.Domains {
		d.ID = plan.DomainID(canonicalAlias(string(d.ID)))
		if d.ID == "" {
			return Tables{}, invalidf("domain with empty id")
		}
		if ids[d.ID] {
			return Tables{}, invalidf("domain %s defined twice", d.ID)
		}
		if !d.Kind.Valid() {
			return Tables{}, invalidf("domain %s: unknown kind %q", d.ID, d.Kind)
		}
		if !d.DefaultArchetype.Valid() {
			return Tables{}, invalidf("domain %s: unknown default archetype %q", d.ID, d.DefaultArchetype)
		}
		if d.Kind == plan.KindSafety && d.Bundle == nil {
			return Tables{}, invalidf("safety domain %s has no bundle", d.ID)
		}
		known := make([]string, 0, len(d.Differentiators))
		for _, id := range d.Differentiators {
			id = canonicalKey(id)
			if !diffs[id] {
				return Tables{}, invalidf("domain %s: unknown differentiator %s", d.ID, id)
			}
			known = append(known, id)
		}
		d.Differentiators = known
		if d.Ranking != nil {
			for _, g := range d.Ranking.SignalEmphasis {
				spec, ok := groups[plan.GroupID(g)]
				if !ok || spec.Kind != plan.KindRanking {
					return Tables{}, invalidf("domain %s: emphasis %s is not a ranking group", d.ID, g)
				}
			}
		}

		names := append([]string{string(d.ID)}, d.Aliases...)
		normalized := make([]string, 0, len(names))
		for _, a := range names {
			a = canonicalAlias(a)
			if a == "" {
				continue
			}
			if owner, taken := aliases[a]; taken && owner != d.ID {
				return Tables{}, invalidf("alias %s claimed by %s and %s", a, owner, d.ID)
			}
			aliases[a] = d.ID
			normalized = append(normalized, a)
		}
		d.Aliases = normalized

		d.MetricPrefix = strings.ToUpper(strings.TrimSpace(d.MetricPrefix))
		if d.MetricPrefix != "" {
			if owner, taken := prefixes[d.MetricPrefix]; taken {
				return Tables{}, invalidf("metric prefix %s claimed by %s and %s", d.MetricPrefix, owner, d.ID)
			}
			prefixes[d.MetricPrefix] = d.ID
		}
		ids[d.ID] = true
		out.Domains = append(out.Domains, d)
	}
	if out.FallbackDomain != "" && !ids[out.FallbackDomain] {
		return Tables{}, invalidf("fallback domain %s is not defined", out.FallbackDomain)
	}
	return out, nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTables, fmt.Sprintf(format, args...))
}

// canonicalKey lower-cases an identifier and folds separators to "_".
func canonicalKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// canonicalAlias upper-cases a domain alias and folds separators to "_".
func canonicalAlias(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
