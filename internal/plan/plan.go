package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is the version stamped on every emitted plan.
const SchemaVersion = "3.0.0"

// ArtifactRootKey is the single root key of a persisted plan artifact.
const ArtifactRootKey = "planner_plan"

// Provenance records where a signal or rule came from.
type Provenance struct {
	Source    string `json:"source"`
	Reference string `json:"reference,omitempty"`
}

// Signal is one clinical indicator in a signal group.
type Signal struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	EvidenceType    string      `json:"evidence_type"`
	Provenance      *Provenance `json:"provenance,omitempty"`
	Archetype       Archetype   `json:"archetype,omitempty"`
	Differentiators []string    `json:"differentiators,omitempty"`
	EvidenceRefs    []string    `json:"evidence_refs,omitempty"`
}

// SignalGroup is one of the skeleton's five named buckets.
type SignalGroup struct {
	ID      GroupID  `json:"group_id"`
	Title   string   `json:"title,omitempty"`
	Hints   []string `json:"hints,omitempty"`
	Signals []Signal `json:"signals"`
}

// Rule is a review criterion.
type Rule struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Logic      string      `json:"logic"`
	Provenance *Provenance `json:"provenance,omitempty"`
	Archetype  Archetype   `json:"archetype,omitempty"`
}

// Question types accepted in the questions section.
const (
	QuestionBoolean  = "boolean"
	QuestionChoice   = "choice"
	QuestionFreeText = "free_text"
)

// Question is a reviewer-facing question.
type Question struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	Options   []string  `json:"options,omitempty"`
	Archetype Archetype `json:"archetype,omitempty"`
}

// Reference is a clinical or tool reference cited by the plan.
type Reference struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Source string `json:"source"`
	URL    string `json:"url,omitempty"`
}

// RationaleSegment is one lane's rationale, headed by its archetype.
type RationaleSegment struct {
	Archetype       Archetype `json:"archetype"`
	Header          string    `json:"header"`
	Text            string    `json:"text"`
	Differentiators []string  `json:"differentiators,omitempty"`
	Incomplete      bool      `json:"incomplete,omitempty"`
}

// Rationale is the merged rationale section.
type Rationale struct {
	Summary  string             `json:"summary"`
	Text     string             `json:"text"`
	Segments []RationaleSegment `json:"segments"`
}

// ReviewPhase is one phase of the human review workflow.
type ReviewPhase struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

// PromptSpec is the prompts section entry for one task node.
type PromptSpec struct {
	TaskID    string    `json:"task_id"`
	Archetype Archetype `json:"archetype,omitempty"`
	System    string    `json:"system"`
	Groups    []GroupID `json:"groups,omitempty"`
}

// RevisionInfo records the scope and remark that produced a revision.
type RevisionInfo struct {
	Scope  string `json:"scope"`
	Remark string `json:"remark"`
}

// Metadata is the plan's metadata section.
type Metadata struct {
	PlanID           string        `json:"plan_id"`
	SchemaVersion    string        `json:"schema_version"`
	PlanningID       string        `json:"planning_id"`
	Concern          string        `json:"concern"`
	Domain           DomainID      `json:"domain"`
	DomainKind       DomainKind    `json:"domain_kind"`
	Archetypes       []Archetype   `json:"archetypes"`
	PrimaryArchetype Archetype     `json:"primary_archetype"`
	CreatedAt        time.Time     `json:"created_at"`
	GateDecision     Decision      `json:"gate_decision"`
	IncompleteLanes  []Archetype   `json:"incomplete_lanes,omitempty"`
	ParentPlanID     string        `json:"parent_plan_id,omitempty"`
	Revision         *RevisionInfo `json:"revision,omitempty"`
}

// PlannerPlan is the final artifact. It is immutable once emitted; a
// revision produces a new value that points at its parent.
type PlannerPlan struct {
	Metadata     Metadata         `json:"metadata"`
	Rationale    Rationale        `json:"rationale"`
	SignalGroups []SignalGroup    `json:"signal_groups"`
	Criteria     []Rule           `json:"criteria"`
	Questions    []Question       `json:"questions"`
	Phases       []ReviewPhase    `json:"phases"`
	Prompts      []PromptSpec     `json:"prompts"`
	References   []Reference      `json:"references"`
	Validation   ValidationResult `json:"validation"`
	Audit        []StageRecord    `json:"audit"`
}

// Clone returns a deep copy of the plan.
func (p PlannerPlan) Clone() PlannerPlan {
	out := p
	out.Metadata.Archetypes = append([]Archetype(nil), p.Metadata.Archetypes...)
	out.Metadata.IncompleteLanes = append([]Archetype(nil), p.Metadata.IncompleteLanes...)
	if p.Metadata.Revision != nil {
		r := *p.Metadata.Revision
		out.Metadata.Revision = &r
	}
	out.Rationale.Segments = make([]RationaleSegment, len(p.Rationale.Segments))
	for i, s := range p.Rationale.Segments {
		s.Differentiators = cloneStrings(s.Differentiators)
		out.Rationale.Segments[i] = s
	}
	out.SignalGroups = cloneGroups(p.SignalGroups)
	out.Criteria = cloneRules(p.Criteria)
	out.Questions = cloneQuestions(p.Questions)
	out.Phases = append([]ReviewPhase(nil), p.Phases...)
	out.Prompts = make([]PromptSpec, len(p.Prompts))
	for i, ps := range p.Prompts {
		ps.Groups = append([]GroupID(nil), ps.Groups...)
		out.Prompts[i] = ps
	}
	out.References = append([]Reference(nil), p.References...)
	out.Validation = p.Validation.Merge(NewValidationResult())
	out.Audit = append([]StageRecord(nil), p.Audit...)
	return out
}

func cloneGroups(in []SignalGroup) []SignalGroup {
	if in == nil {
		return nil
	}
	out := make([]SignalGroup, len(in))
	for i, g := range in {
		g.Hints = cloneStrings(g.Hints)
		signals := make([]Signal, len(g.Signals))
		for j, s := range g.Signals {
			signals[j] = s.Clone()
		}
		g.Signals = signals
		out[i] = g
	}
	return out
}

// Clone returns a deep copy of the signal.
func (s Signal) Clone() Signal {
	out := s
	if s.Provenance != nil {
		p := *s.Provenance
		out.Provenance = &p
	}
	out.Differentiators = cloneStrings(s.Differentiators)
	out.EvidenceRefs = cloneStrings(s.EvidenceRefs)
	return out
}

func cloneRules(in []Rule) []Rule {
	if in == nil {
		return nil
	}
	out := make([]Rule, len(in))
	for i, r := range in {
		if r.Provenance != nil {
			p := *r.Provenance
			r.Provenance = &p
		}
		out[i] = r
	}
	return out
}

func cloneQuestions(in []Question) []Question {
	if in == nil {
		return nil
	}
	out := make([]Question, len(in))
	for i, q := range in {
		q.Options = cloneStrings(q.Options)
		out[i] = q
	}
	return out
}

// ErrNotArtifact is returned when a document lacks the artifact root key.
var ErrNotArtifact = errors.New("document is not a planner artifact")

// MarshalArtifact encodes p under the artifact root key.
func MarshalArtifact(p PlannerPlan) ([]byte, error) {
	data, err := json.MarshalIndent(map[string]PlannerPlan{ArtifactRootKey: p}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	return data, nil
}

// UnmarshalArtifact decodes a persisted artifact.
func UnmarshalArtifact(data []byte) (PlannerPlan, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return PlannerPlan{}, fmt.Errorf("decode artifact: %w", err)
	}
	raw, ok := doc[ArtifactRootKey]
	if !ok {
		return PlannerPlan{}, ErrNotArtifact
	}
	var p PlannerPlan
	if err := json.Unmarshal(raw, &p); err != nil {
		return PlannerPlan{}, fmt.Errorf("decode %s: %w", ArtifactRootKey, err)
	}
	return p, nil
}
