package plan

// PlanningInput is the raw request accepted at S0.
type PlanningInput struct {
	PlanningID           string          `json:"planning_id,omitempty"`
	Concern              string          `json:"concern"`
	DomainHint           string          `json:"domain_hint,omitempty"`
	Intent               string          `json:"intent,omitempty"`
	TargetPopulation     string          `json:"target_population,omitempty"`
	SpecificRequirements []string        `json:"specific_requirements,omitempty"`
	Differentiators      []string        `json:"differentiators,omitempty"`
	ClinicalContext      ClinicalContext `json:"clinical_context,omitempty"`
	DataProfile          DataProfile     `json:"data_profile,omitempty"`
	Ranking              *RankingInput   `json:"ranking,omitempty"`
	SemanticPacket       *SemanticPacket `json:"semantic_packet,omitempty"`
}

// ClinicalContext carries the review objective and governing frameworks.
type ClinicalContext struct {
	Objective            string   `json:"objective,omitempty"`
	RegulatoryFrameworks []string `json:"regulatory_frameworks,omitempty"`
}

// DataProfile lists the data sources available to reviewers.
type DataProfile struct {
	Sources []string `json:"sources,omitempty"`
}

// RankingInput lets a caller supply ranking intelligence directly.
type RankingInput struct {
	Rank           int      `json:"rank"`
	Source         string   `json:"source,omitempty"`
	SignalEmphasis []string `json:"signal_emphasis,omitempty"`
}

// SemanticPacket is pre-loaded semantic data attached to a request.
type SemanticPacket struct {
	Differentiators []string             `json:"differentiators,omitempty"`
	GroupHints      map[GroupID][]string `json:"group_hints,omitempty"`
	Facts           []SourcedFact        `json:"facts,omitempty"`
}

// NormalizedRequest is the validated planning input produced by S0.
// It is treated as immutable once produced; use Clone before handing it to
// code that may retain it.
type NormalizedRequest struct {
	PlanningID       string          `json:"planning_id"`
	Concern          string          `json:"concern"`
	DomainHint       string          `json:"domain_hint,omitempty"`
	Intent           string          `json:"intent,omitempty"`
	TargetPopulation string          `json:"target_population,omitempty"`
	Objective        string          `json:"objective,omitempty"`
	Requirements     []string        `json:"requirements,omitempty"`
	Differentiators  []string        `json:"differentiators"`
	Frameworks       []string        `json:"frameworks,omitempty"`
	DataSources      []string        `json:"data_sources,omitempty"`
	Ranking          *RankingInput   `json:"ranking,omitempty"`
	Packet           *SemanticPacket `json:"packet,omitempty"`
}

// HasDifferentiator reports whether id was asserted by the request.
func (r NormalizedRequest) HasDifferentiator(id string) bool {
	for _, d := range r.Differentiators {
		if d == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the request.
func (r NormalizedRequest) Clone() NormalizedRequest {
	out := r
	out.Requirements = cloneStrings(r.Requirements)
	out.Differentiators = cloneStrings(r.Differentiators)
	out.Frameworks = cloneStrings(r.Frameworks)
	out.DataSources = cloneStrings(r.DataSources)
	if r.Ranking != nil {
		rk := *r.Ranking
		rk.SignalEmphasis = cloneStrings(r.Ranking.SignalEmphasis)
		out.Ranking = &rk
	}
	if r.Packet != nil {
		p := r.Packet.Clone()
		out.Packet = &p
	}
	return out
}

// Clone returns a deep copy of the packet.
func (p SemanticPacket) Clone() SemanticPacket {
	out := SemanticPacket{
		Differentiators: cloneStrings(p.Differentiators),
		Facts:           append([]SourcedFact(nil), p.Facts...),
	}
	if p.GroupHints != nil {
		out.GroupHints = make(map[GroupID][]string, len(p.GroupHints))
		for k, v := range p.GroupHints {
			out.GroupHints[k] = cloneStrings(v)
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
