// Package orchestrator runs the S0-S6 planning pipeline with a gate
// decision after every stage.
package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/planner/internal/gate"
	"github.com/fyrsmithlabs/planner/internal/plan"
)

// State is everything a run has produced so far. It is plain data so a
// durable workflow can carry it between activities; the gate engine is
// rebuilt from Records.
type State struct {
	RunID     string                 `json:"run_id"`
	Request   plan.NormalizedRequest `json:"request"`
	Context   plan.DomainContext     `json:"context"`
	Skeleton  plan.Skeleton          `json:"skeleton"`
	Graph     plan.TaskGraph         `json:"graph"`
	Prompts   plan.PromptPlan        `json:"prompts"`
	Execution plan.ExecutionResult   `json:"execution"`
	Records   []plan.StageRecord     `json:"records"`
}

// Next returns the stage the run will record next.
func (s *State) Next() (plan.Stage, bool) {
	stages := plan.AllStages()
	if len(s.Records) >= len(stages) {
		return "", false
	}
	return stages[len(s.Records)], true
}

// Halted reports whether the last recorded stage halted.
func (s *State) Halted() bool {
	n := len(s.Records)
	return n > 0 && s.Records[n-1].Gate.Decision == plan.DecisionHalt
}

// HaltError is returned when a stage gate decides HALT. Report holds the
// records up to and including the halting stage.
type HaltError struct {
	Stage      plan.Stage
	Violations []plan.Issue
	Report     plan.RunReport
}

func (e *HaltError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return fmt.Sprintf("pipeline halted at %s (%s): %s", e.Stage, e.Stage.Name(), strings.Join(msgs, "; "))
}

// Unwrap lets callers match with errors.Is(err, gate.ErrHalted).
func (e *HaltError) Unwrap() error { return gate.ErrHalted }

// Progress is reported after each gated stage.
type Progress struct {
	RunID      string        `json:"run_id"`
	Stage      plan.Stage    `json:"stage"`
	Name       string        `json:"name"`
	Decision   plan.Decision `json:"decision"`
	Percentage int           `json:"percentage"`
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(Progress)

// Result is the outcome of a full run.
type Result struct {
	Plan   plan.PlannerPlan `json:"plan"`
	Report plan.RunReport   `json:"report"`
	State  *State           `json:"-"`
}
