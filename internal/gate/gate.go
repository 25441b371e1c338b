// Package gate decides whether a pipeline stage may pass, must warn, or
// halts the run, and keeps the per-stage audit trail of those decisions.
package gate

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// Thresholds are the severity rules for one stage.
//
// Structural findings always halt and semantic findings always warn. The
// only tunable is whether clinical findings raise a warning.
type Thresholds struct {
	WarnOnClinical bool `json:"warn_on_clinical" koanf:"warn_on_clinical"`
}

// Policy holds default thresholds plus per-stage overrides.
type Policy struct {
	Default Thresholds                `json:"default"`
	Stages  map[plan.Stage]Thresholds `json:"stages,omitempty"`
}

// DefaultPolicy returns a policy where clinical findings never block.
func DefaultPolicy() Policy {
	return Policy{}
}

// For returns the thresholds for stage.
func (p Policy) For(stage plan.Stage) Thresholds {
	if th, ok := p.Stages[stage]; ok {
		return th
	}
	return p.Default
}

// Decide maps a stage's validation result to a gate decision. It is a pure
// function of its inputs.
func Decide(stage plan.Stage, result plan.ValidationResult, th Thresholds) plan.GateDecision {
	if result.HasStructuralErrors() {
		return plan.GateDecision{
			Decision: plan.DecisionHalt,
			Reason:   fmt.Sprintf("%s structural failure: %s", stage, describe(result.Structural.Errors)),
		}
	}
	if result.HasSemanticErrors() {
		return plan.GateDecision{
			Decision: plan.DecisionWarn,
			Reason:   fmt.Sprintf("%s semantic warnings: %s", stage, describe(result.Semantic.Errors)),
		}
	}
	if result.HasClinicalFindings() {
		clinical := append(append([]plan.Issue{}, result.Clinical.Errors...), result.Clinical.Warnings...)
		if th.WarnOnClinical {
			return plan.GateDecision{
				Decision: plan.DecisionWarn,
				Reason:   fmt.Sprintf("%s clinical findings: %s", stage, describe(clinical)),
			}
		}
		return plan.GateDecision{
			Decision: plan.DecisionPass,
			Reason:   fmt.Sprintf("%s passed with %d clinical finding(s)", stage, len(clinical)),
		}
	}
	return plan.GateDecision{Decision: plan.DecisionPass, Reason: fmt.Sprintf("%s passed", stage)}
}

// describe creates a summary of issues
func describe(issues []plan.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, i := range issues {
		parts = append(parts, fmt.Sprintf("[%s] %s", i.Code, i.Message))
	}
	return strings.Join(parts, "; ")
}
