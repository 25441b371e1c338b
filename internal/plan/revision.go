package plan

import (
	"errors"
	"fmt"
)

// ErrUnknownScope is returned for revision scopes that are not recognised.
var ErrUnknownScope = errors.New("unknown revision scope")

// RevisionScope names the plan section a revision rewrites.
type RevisionScope string

const (
	ScopeSignals   RevisionScope = "signals"
	ScopeQuestions RevisionScope = "questions"
	ScopeCriteria  RevisionScope = "criteria"
	ScopePhases    RevisionScope = "phases"
	ScopePrompts   RevisionScope = "prompts"
	ScopeFull      RevisionScope = "full"
)

// RevisionScopes returns every accepted scope.
func RevisionScopes() []RevisionScope {
	return []RevisionScope{ScopeSignals, ScopeQuestions, ScopeCriteria, ScopePhases, ScopePrompts, ScopeFull}
}

// ParseRevisionScope accepts a scope name; "rules" and "prompt" are
// accepted as aliases of criteria and prompts.
func ParseRevisionScope(v string) (RevisionScope, error) {
	switch v {
	case "rules":
		return ScopeCriteria, nil
	case "prompt":
		return ScopePrompts, nil
	}
	for _, s := range RevisionScopes() {
		if string(s) == v {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownScope, v)
}

// Includes reports whether a revision of scope s rewrites section other.
func (s RevisionScope) Includes(other RevisionScope) bool {
	return s == ScopeFull || s == other
}

// RevisionSections carries the plan sections exchanged with the model
// during a revision. Only the sections within scope are set.
type RevisionSections struct {
	SignalGroups []SignalGroup `json:"signal_groups,omitempty"`
	Criteria     []Rule        `json:"criteria,omitempty"`
	Questions    []Question    `json:"questions,omitempty"`
	Phases       []ReviewPhase `json:"phases,omitempty"`
	Prompts      []PromptSpec  `json:"prompts,omitempty"`
}

// RevisionPayload is the request body of a revision call.
type RevisionPayload struct {
	Kind     PromptKind       `json:"kind"`
	PlanID   string           `json:"plan_id"`
	Scope    RevisionScope    `json:"scope"`
	Remark   string           `json:"remark"`
	Concern  string           `json:"concern"`
	Domain   DomainID         `json:"domain"`
	Sections RevisionSections `json:"sections"`
}
