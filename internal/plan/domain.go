package plan

import "time"

// DomainID identifies a domain in the closed registry enumeration.
type DomainID string

// DomainKind tags a domain as safety surveillance or specialty ranking.
type DomainKind string

const (
	KindSafety  DomainKind = "safety"
	KindRanking DomainKind = "ranking"
)

// Valid reports whether k is a known domain kind.
func (k DomainKind) Valid() bool {
	return k == KindSafety || k == KindRanking
}

// Domain is the tagged variant returned by domain resolution.
type Domain struct {
	ID   DomainID   `json:"id"`
	Kind DomainKind `json:"kind"`
	Name string     `json:"name"`
}

// IsZero reports whether the domain is unresolved.
func (d Domain) IsZero() bool {
	return d.ID == ""
}

// GroupID names one of a domain's five signal groups.
type GroupID string

// Safety vocabulary.
const (
	GroupRuleIn            GroupID = "rule_in"
	GroupRuleOut           GroupID = "rule_out"
	GroupDelayDrivers      GroupID = "delay_drivers"
	GroupDocumentationGaps GroupID = "documentation_gaps"
	GroupBundleGaps        GroupID = "bundle_gaps"
)

// Ranking vocabulary.
const (
	GroupCoreCriteria         GroupID = "core_criteria"
	GroupExclusionCriteria    GroupID = "exclusion_criteria"
	GroupOutcomeRisk          GroupID = "outcome_risk"
	GroupProcessCompliance    GroupID = "process_compliance"
	GroupDataIntegrity        GroupID = "data_integrity"
	GroupDocumentationQuality GroupID = "documentation_quality"
	GroupTimingIntervals      GroupID = "timing_intervals"
)

// SkeletonSize is the fixed number of signal groups in every skeleton.
const SkeletonSize = 5

// Differentiator is a domain factor asserted by the request.
type Differentiator struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Archetype Archetype `json:"archetype"`
}

// Benchmark is a reference target used to ground prompts.
type Benchmark struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

// SafetyBundle is the prevention bundle attached to a safety domain.
type SafetyBundle struct {
	Name     string   `json:"name"`
	Elements []string `json:"elements"`
	Source   string   `json:"source"`
}

// RankingContext is ranking intelligence for a specialty.
type RankingContext struct {
	Rank           int      `json:"rank"`
	Source         string   `json:"source"`
	SignalEmphasis []string `json:"signal_emphasis,omitempty"`
}

// SourcedFact is a single fact from a research source.
type SourcedFact struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Text   string `json:"text"`
	URL    string `json:"url,omitempty"`
}

// CacheStatus reports whether research came from a live fetch or cache.
type CacheStatus string

const (
	CacheLive   CacheStatus = "live"
	CacheCached CacheStatus = "cached"
)

// Conflict is a disagreement between two research sources.
type Conflict struct {
	Topic   string   `json:"topic"`
	Sources []string `json:"sources"`
	Detail  string   `json:"detail"`
}

// ResearchBundle is what a research provider returns for a concern.
type ResearchBundle struct {
	Facts       []SourcedFact `json:"facts"`
	CacheStatus CacheStatus   `json:"cache_status"`
	Coverage    float64       `json:"coverage"`
	Conflicts   []Conflict    `json:"conflicts,omitempty"`
	FetchedAt   time.Time     `json:"fetched_at"`
}

// ArchetypeAssignment is one lane selection with its justification.
type ArchetypeAssignment struct {
	Archetype     Archetype `json:"archetype"`
	Justification string    `json:"justification"`
	Triggers      []string  `json:"triggers,omitempty"`
}

// JustificationDomainDefault marks an archetype chosen by domain fallback.
const JustificationDomainDefault = "domain_default"

// DomainContext is produced once by S1 and read-only afterward.
type DomainContext struct {
	Domain           Domain                `json:"domain"`
	Archetypes       []ArchetypeAssignment `json:"archetypes"`
	PrimaryArchetype Archetype             `json:"primary_archetype"`
	Differentiators  []Differentiator      `json:"differentiators"`
	Benchmarks       []Benchmark           `json:"benchmarks"`
	DomainRules      []string              `json:"domain_rules"`
	Ranking          *RankingContext       `json:"ranking,omitempty"`
	RankingExpected  bool                  `json:"ranking_expected"`
	Safety           *SafetyBundle         `json:"safety,omitempty"`
	Packet           *SemanticPacket       `json:"packet,omitempty"`
	Research         *ResearchBundle       `json:"research,omitempty"`
}

// ArchetypeList returns the ordered archetypes without justifications.
func (c DomainContext) ArchetypeList() []Archetype {
	out := make([]Archetype, len(c.Archetypes))
	for i, a := range c.Archetypes {
		out[i] = a.Archetype
	}
	return out
}

// HasDifferentiator reports whether id is asserted in the context.
func (c DomainContext) HasDifferentiator(id string) bool {
	for _, d := range c.Differentiators {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so lanes can never alias shared context.
func (c DomainContext) Clone() DomainContext {
	out := c
	out.Archetypes = make([]ArchetypeAssignment, len(c.Archetypes))
	for i, a := range c.Archetypes {
		a.Triggers = cloneStrings(a.Triggers)
		out.Archetypes[i] = a
	}
	out.Differentiators = append([]Differentiator(nil), c.Differentiators...)
	out.Benchmarks = append([]Benchmark(nil), c.Benchmarks...)
	out.DomainRules = cloneStrings(c.DomainRules)
	if c.Ranking != nil {
		r := *c.Ranking
		r.SignalEmphasis = cloneStrings(c.Ranking.SignalEmphasis)
		out.Ranking = &r
	}
	if c.Safety != nil {
		s := *c.Safety
		s.Elements = cloneStrings(c.Safety.Elements)
		out.Safety = &s
	}
	if c.Packet != nil {
		p := c.Packet.Clone()
		out.Packet = &p
	}
	if c.Research != nil {
		r := *c.Research
		r.Facts = append([]SourcedFact(nil), c.Research.Facts...)
		r.Conflicts = append([]Conflict(nil), c.Research.Conflicts...)
		out.Research = &r
	}
	return out
}

// Skeleton is the fixed-cardinality signal-group frame for a domain.
type Skeleton struct {
	Domain DomainID      `json:"domain"`
	Kind   DomainKind    `json:"kind"`
	Groups []SignalGroup `json:"groups"`
}

// GroupIDs returns the skeleton's group ids in order.
func (s Skeleton) GroupIDs() []GroupID {
	out := make([]GroupID, len(s.Groups))
	for i, g := range s.Groups {
		out[i] = g.ID
	}
	return out
}

// HasGroup reports whether id is one of the skeleton's groups.
func (s Skeleton) HasGroup(id GroupID) bool {
	for _, g := range s.Groups {
		if g.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the skeleton.
func (s Skeleton) Clone() Skeleton {
	out := s
	out.Groups = cloneGroups(s.Groups)
	return out
}
