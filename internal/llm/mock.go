package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// Mock is a deterministic offline client. Task responses are built from
// the prompt payload so they always reference the payload's groups, facts
// and rules; revision responses apply the remark to each section in scope.
type Mock struct {
	mu       sync.Mutex
	failures map[string]ErrorKind
	calls    []Request
}

// NewMock creates a mock client.
func NewMock() *Mock {
	return &Mock{failures: map[string]ErrorKind{}}
}

// FailTask makes every call for taskID fail with kind.
func (m *Mock) FailTask(taskID string, kind ErrorKind) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[taskID] = kind
	return m
}

// Calls returns the requests received so far.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// Complete implements Client.
func (m *Mock) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	kind, fail := m.failures[req.TaskID]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, Classify(err)
	}
	if fail {
		return nil, Errorf(kind, "injected failure for %s", req.TaskID)
	}

	switch req.Kind {
	case plan.PromptRevision:
		var p plan.RevisionPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, &Error{Kind: KindMalformed, Err: err}
		}
		return json.Marshal(reviseSections(p))
	default:
		var p plan.PromptPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, &Error{Kind: KindMalformed, Err: err}
		}
		return json.Marshal(taskOutput(p))
	}
}

func taskOutput(p plan.PromptPayload) plan.TaskOutput {
	prefix := strings.ReplaceAll(p.TaskID, ":", ".")
	label := p.Archetype.DisplayName()
	prov, refs := grounding(p)

	out := plan.TaskOutput{
		SignalGroups:             make([]plan.SignalGroup, 0, len(p.Groups)),
		DifferentiatorsAddressed: append([]string(nil), p.TaskDifferentiators...),
	}
	for _, g := range p.Groups {
		desc := fmt.Sprintf("%s evidence for %s in %s", label, g.Title, p.Concern)
		if len(g.Hints) > 0 {
			desc += " (" + strings.Join(g.Hints, "; ") + ")"
		}
		out.SignalGroups = append(out.SignalGroups, plan.SignalGroup{
			ID:    g.ID,
			Title: g.Title,
			Signals: []plan.Signal{{
				ID:              fmt.Sprintf("%s.%s", prefix, g.ID),
				Name:            fmt.Sprintf("%s: %s", label, g.Title),
				Description:     desc,
				EvidenceType:    "chart_review",
				Provenance:      &plan.Provenance{Source: prov.Source, Reference: prov.Reference},
				Archetype:       p.Archetype,
				Differentiators: append([]string(nil), p.TaskDifferentiators...),
				EvidenceRefs:    append([]string(nil), refs...),
			}},
		})
	}

	if len(p.DomainRules) > 0 {
		out.Criteria = []plan.Rule{{
			ID:         prefix + ".criterion",
			Name:       fmt.Sprintf("%s criterion", label),
			Logic:      p.DomainRules[0],
			Provenance: &plan.Provenance{Source: prov.Source, Reference: prov.Reference},
			Archetype:  p.Archetype,
		}}
	}
	out.Questions = []plan.Question{{
		ID:        prefix + ".question",
		Text:      fmt.Sprintf("Does the record support the %s findings for %s?", strings.ToLower(label), p.Concern),
		Type:      plan.QuestionBoolean,
		Archetype: p.Archetype,
	}}
	for _, f := range p.Facts {
		out.References = append(out.References, plan.Reference{ID: f.ID, Title: f.Text, Source: f.Source, URL: f.URL})
	}

	out.Rationale = fmt.Sprintf("%s reviewed %d signal group(s) for %s in %s during %s.",
		label, len(p.Groups), p.Concern, p.Domain.Name, strings.ReplaceAll(p.Task, "_", " "))
	if len(p.PriorOutputs) > 0 {
		out.Rationale += fmt.Sprintf(" Built on %d earlier step(s).", len(p.PriorOutputs))
	}
	if len(p.TaskDifferentiators) > 0 {
		out.Rationale += " Addresses " + strings.Join(p.TaskDifferentiators, ", ") + "."
	}
	return out
}

func grounding(p plan.PromptPayload) (plan.Provenance, []string) {
	if len(p.Facts) > 0 {
		refs := make([]string, 0, len(p.Facts))
		for _, f := range p.Facts {
			refs = append(refs, f.ID)
		}
		return plan.Provenance{Source: p.Facts[0].Source, Reference: p.Facts[0].ID}, refs
	}
	ref := fmt.Sprintf("%s-rule-1", p.Domain.ID)
	return plan.Provenance{Source: "registry", Reference: ref}, []string{ref}
}

func reviseSections(p plan.RevisionPayload) plan.RevisionSections {
	s := p.Sections
	remark := strings.TrimSpace(p.Remark)
	prov := &plan.Provenance{Source: "reviewer", Reference: p.PlanID}

	if p.Scope.Includes(plan.ScopeSignals) && len(s.SignalGroups) > 0 {
		g := &s.SignalGroups[0]
		g.Signals = append(g.Signals, plan.Signal{
			ID:           fmt.Sprintf("revision.%s.%d", g.ID, len(g.Signals)+1),
			Name:         "Reviewer requested signal",
			Description:  remark,
			EvidenceType: "chart_review",
			Provenance:   prov,
			EvidenceRefs: []string{p.PlanID},
		})
	}
	if p.Scope.Includes(plan.ScopeCriteria) {
		s.Criteria = append(s.Criteria, plan.Rule{
			ID:         fmt.Sprintf("revision.criterion.%d", len(s.Criteria)+1),
			Name:       "Reviewer requested criterion",
			Logic:      remark,
			Provenance: prov,
		})
	}
	if p.Scope.Includes(plan.ScopeQuestions) {
		s.Questions = append(s.Questions, plan.Question{
			ID:   fmt.Sprintf("revision.question.%d", len(s.Questions)+1),
			Text: remark,
			Type: plan.QuestionFreeText,
		})
	}
	if p.Scope.Includes(plan.ScopePhases) {
		s.Phases = append(s.Phases, plan.ReviewPhase{
			ID:          "reviewer_follow_up",
			Name:        "Reviewer follow-up",
			Description: remark,
			Order:       len(s.Phases) + 1,
		})
	}
	if p.Scope.Includes(plan.ScopePrompts) {
		for i := range s.Prompts {
			s.Prompts[i].System += "\n\nReviewer note: " + remark
		}
	}
	return s
}
