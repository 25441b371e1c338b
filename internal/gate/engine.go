package gate

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

var (
	// ErrHalted is returned when a stage is recorded after a HALT.
	ErrHalted = errors.New("pipeline halted")

	// ErrOutOfOrder is returned when stages are recorded out of sequence.
	ErrOutOfOrder = errors.New("stage recorded out of order")

	// ErrComplete is returned when every stage has already been recorded.
	ErrComplete = errors.New("all stages recorded")
)

// Engine is the gate state machine over S0..S6. Stages must be recorded in
// order, nothing may be recorded after a HALT, and the overall decision
// only ever moves up the HALT > WARN > PASS order.
//
// Engine is not safe for concurrent use; the stage sequence is synchronous.
type Engine struct {
	policy  Policy
	records []plan.StageRecord
	overall plan.Decision
	halted  bool
}

// NewEngine creates an engine positioned before S0.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy, overall: plan.DecisionPass}
}

// Resume rebuilds an engine from previously recorded stages, replaying each
// record through the same transition rules.
func Resume(policy Policy, records []plan.StageRecord) (*Engine, error) {
	e := NewEngine(policy)
	for _, r := range records {
		if err := e.check(r.Stage); err != nil {
			return nil, fmt.Errorf("resume at %s: %w", r.Stage, err)
		}
		e.apply(r)
	}
	return e, nil
}

// Next returns the stage expected to be recorded next.
func (e *Engine) Next() (plan.Stage, bool) {
	stages := plan.AllStages()
	if e.halted || len(e.records) >= len(stages) {
		return "", false
	}
	return stages[len(e.records)], true
}

// Record decides the gate for stage and appends the audit record.
func (e *Engine) Record(stage plan.Stage, result plan.ValidationResult, startedAt time.Time, duration time.Duration) (plan.StageRecord, error) {
	if err := e.check(stage); err != nil {
		return plan.StageRecord{}, err
	}
	rec := plan.StageRecord{
		Stage:      stage,
		Name:       stage.Name(),
		Gate:       Decide(stage, result, e.policy.For(stage)),
		Validation: result,
		StartedAt:  startedAt,
		DurationMS: duration.Milliseconds(),
	}
	e.apply(rec)
	return rec, nil
}

func (e *Engine) check(stage plan.Stage) error {
	if e.halted {
		return fmt.Errorf("%w at %s, cannot record %s", ErrHalted, e.HaltedAt(), stage)
	}
	next, ok := e.Next()
	if !ok {
		return ErrComplete
	}
	if stage != next {
		return fmt.Errorf("%w: expected %s, got %s", ErrOutOfOrder, next, stage)
	}
	return nil
}

func (e *Engine) apply(rec plan.StageRecord) {
	e.records = append(e.records, rec)
	e.overall = e.overall.Max(rec.Gate.Decision)
	if rec.Gate.Decision == plan.DecisionHalt {
		e.halted = true
	}
}

// Overall returns the most severe decision recorded so far.
func (e *Engine) Overall() plan.Decision {
	return e.overall
}

// Halted reports whether a HALT has been recorded.
func (e *Engine) Halted() bool {
	return e.halted
}

// HaltedAt returns the stage that halted, or "".
func (e *Engine) HaltedAt() plan.Stage {
	if !e.halted {
		return ""
	}
	return e.records[len(e.records)-1].Stage
}

// Done reports whether every stage has been recorded without a HALT.
func (e *Engine) Done() bool {
	return !e.halted && len(e.records) == len(plan.AllStages())
}

// Records returns a copy of the audit trail.
func (e *Engine) Records() []plan.StageRecord {
	return append([]plan.StageRecord(nil), e.records...)
}

// Last returns the most recent record.
func (e *Engine) Last() (plan.StageRecord, bool) {
	if len(e.records) == 0 {
		return plan.StageRecord{}, false
	}
	return e.records[len(e.records)-1], true
}

// Validation merges every recorded stage's validation result.
func (e *Engine) Validation() plan.ValidationResult {
	out := plan.NewValidationResult()
	for _, r := range e.records {
		out = out.Merge(r.Validation)
	}
	return out
}

// Warnings returns every non-blocking finding carried by the run.
func (e *Engine) Warnings() []plan.Issue {
	return e.Validation().Warnings()
}

// Violations returns the structural errors of the halting stage.
func (e *Engine) Violations() []plan.Issue {
	if !e.halted {
		return nil
	}
	last := e.records[len(e.records)-1]
	return append([]plan.Issue(nil), last.Validation.Structural.Errors...)
}
