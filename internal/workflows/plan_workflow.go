// Package workflows runs the planning pipeline as a durable Temporal
// workflow. The deterministic stages and the final assembly run as single
// activities; each S5 lane runs as its own activity so lanes proceed in
// parallel and survive worker restarts independently.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// PlanWorkflowName is the registered workflow type name.
const PlanWorkflowName = "PlanWorkflow"

// PlanWorkflowInput starts a plan run.
type PlanWorkflowInput struct {
	Input plan.PlanningInput `json:"input"`
}

// PlanWorkflowResult is the outcome of a plan run. A HALT is an outcome,
// not a workflow failure: Decision is HALT and HaltedAt names the stage.
type PlanWorkflowResult struct {
	RunID           string        `json:"run_id"`
	PlanID          string        `json:"plan_id,omitempty"`
	Domain          plan.DomainID `json:"domain,omitempty"`
	Decision        plan.Decision `json:"decision"`
	HaltedAt        plan.Stage    `json:"halted_at,omitempty"`
	Violations      []string      `json:"violations,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	ComplianceScore int           `json:"compliance_score"`
	IsValid         bool          `json:"is_valid"`
	Lanes           int           `json:"lanes"`
	Redactions      int           `json:"redactions,omitempty"`
	Errors          []string      `json:"errors,omitempty"`
}

// PlanWorkflow runs S0-S4, fans the task graph's lanes out as parallel
// activities, then joins them and runs S6.
func PlanWorkflow(ctx workflow.Context, in PlanWorkflowInput) (*PlanWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting plan workflow",
		"planning_id", in.Input.PlanningID,
		"concern", in.Input.Concern)

	stageCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
	// The executor retries model calls itself and records task failures in
	// the lane result, so a lane activity is attempted once.
	laneCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var a *Activities
	result := &PlanWorkflowResult{}

	// Step 1: deterministic stages
	var prep PrepareOutput
	if err := workflow.ExecuteActivity(stageCtx, a.Prepare, in.Input).Get(ctx, &prep); err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("failed to prepare plan", err))
		return result, WrapActivityError("failed to prepare plan", err)
	}
	result.Redactions = prep.Redactions
	if prep.State != nil {
		result.RunID = prep.State.RunID
	}
	if prep.Halt != nil {
		applyHalt(result, prep.Halt)
		logger.Info("Plan workflow halted", "stage", prep.Halt.Stage)
		return result, nil
	}

	// Step 2: one activity per lane
	started := workflow.Now(ctx)
	lanes := prep.State.Graph.Lanes
	futures := make([]workflow.Future, len(lanes))
	for i, lane := range lanes {
		futures[i] = workflow.ExecuteActivity(laneCtx, a.RunLane, LaneInput{
			RunID:   prep.State.RunID,
			Lane:    lane,
			Prompts: prep.State.Prompts,
		})
	}
	results := make([]plan.LaneResult, len(lanes))
	for i, f := range futures {
		if err := f.Get(ctx, &results[i]); err != nil {
			result.Errors = append(result.Errors, FormatErrorForResult("failed to run lane "+string(lanes[i].Archetype), err))
			return result, WrapActivityError("failed to run lane", err)
		}
	}
	result.Lanes = len(results)

	// Step 3: join, assemble, score, store
	var fin FinishOutput
	err := workflow.ExecuteActivity(stageCtx, a.Finish, FinishInput{
		State:   prep.State,
		Lanes:   results,
		Started: started,
	}).Get(ctx, &fin)
	if err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("failed to finish plan", err))
		return result, WrapActivityError("failed to finish plan", err)
	}
	if fin.Halt != nil {
		applyHalt(result, fin.Halt)
		logger.Info("Plan workflow halted", "stage", fin.Halt.Stage)
		return result, nil
	}

	result.PlanID = fin.PlanID
	result.Domain = fin.Domain
	result.Decision = fin.Decision
	result.Warnings = fin.Warnings
	result.ComplianceScore = fin.ComplianceScore
	result.IsValid = fin.IsValid

	logger.Info("Plan workflow complete",
		"plan_id", result.PlanID,
		"decision", result.Decision,
		"compliance_score", result.ComplianceScore)
	return result, nil
}

func applyHalt(r *PlanWorkflowResult, h *HaltInfo) {
	r.Decision = plan.DecisionHalt
	r.HaltedAt = h.Stage
	r.Violations = h.Violations
	if r.RunID == "" {
		r.RunID = h.Report.RunID
	}
}
