package plan

import (
	"fmt"
	"time"
)

// Stage identifies one step of the S0-S6 pipeline.
type Stage string

const (
	// StageIntake normalizes the raw planning input.
	StageIntake Stage = "S0"

	// StageDomain resolves the domain and archetype lanes.
	StageDomain Stage = "S1"

	// StageSkeleton builds the five-group signal skeleton.
	StageSkeleton Stage = "S2"

	// StageTaskGraph expands archetypes into lanes plus synthesis.
	StageTaskGraph Stage = "S3"

	// StagePrompts attaches a grounded payload to every task node.
	StagePrompts Stage = "S4"

	// StageExecute runs lane tasks and the synthesis merge.
	StageExecute Stage = "S5"

	// StageAssemble builds the final plan and runs global checks.
	StageAssemble Stage = "S6"
)

// AllStages returns all stages in execution order.
func AllStages() []Stage {
	return []Stage{StageIntake, StageDomain, StageSkeleton, StageTaskGraph, StagePrompts, StageExecute, StageAssemble}
}

// Index returns the position of the stage in execution order, or -1.
func (s Stage) Index() int {
	for i, st := range AllStages() {
		if st == s {
			return i
		}
	}
	return -1
}

// Name returns a short human readable label.
func (s Stage) Name() string {
	switch s {
	case StageIntake:
		return "intake"
	case StageDomain:
		return "domain_resolution"
	case StageSkeleton:
		return "skeleton"
	case StageTaskGraph:
		return "task_graph"
	case StagePrompts:
		return "prompt_plan"
	case StageExecute:
		return "execution"
	case StageAssemble:
		return "assembly"
	default:
		return "unknown"
	}
}

// ParseStage accepts either the stage code ("S3") or its name ("task_graph").
func ParseStage(v string) (Stage, error) {
	for _, st := range AllStages() {
		if string(st) == v || st.Name() == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", v)
}

// Decision is the gate outcome for a stage. HALT > WARN > PASS.
type Decision string

const (
	DecisionPass Decision = "PASS"
	DecisionWarn Decision = "WARN"
	DecisionHalt Decision = "HALT"
)

// Severity returns the rank of the decision in the HALT > WARN > PASS order.
func (d Decision) Severity() int {
	switch d {
	case DecisionHalt:
		return 2
	case DecisionWarn:
		return 1
	default:
		return 0
	}
}

// Max returns the more severe of two decisions.
func (d Decision) Max(other Decision) Decision {
	if other.Severity() > d.Severity() {
		return other
	}
	if d == "" {
		return DecisionPass
	}
	return d
}

// GateDecision is the decision plus the reason attached for audit.
type GateDecision struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
}

// StageRecord is the per-stage audit entry: gate decision plus the
// validation outcome that produced it.
type StageRecord struct {
	Stage      Stage            `json:"stage"`
	Name       string           `json:"name"`
	Gate       GateDecision     `json:"gate"`
	Validation ValidationResult `json:"validation"`
	StartedAt  time.Time        `json:"started_at"`
	DurationMS int64            `json:"duration_ms"`
}

// RunReport summarizes a complete or halted run for audit consumers.
type RunReport struct {
	RunID      string        `json:"run_id"`
	PlanningID string        `json:"planning_id"`
	PlanID     string        `json:"plan_id,omitempty"`
	Decision   Decision      `json:"decision"`
	HaltedAt   Stage         `json:"halted_at,omitempty"`
	Records    []StageRecord `json:"records"`
	Warnings   []Issue       `json:"warnings,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}
