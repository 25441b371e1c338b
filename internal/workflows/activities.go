package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/planner/internal/gate"
	"github.com/fyrsmithlabs/planner/internal/logging"
	"github.com/fyrsmithlabs/planner/internal/orchestrator"
	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/services"
	"github.com/fyrsmithlabs/planner/internal/store"
)

// Activities runs the pipeline stages for PlanWorkflow. Register a single
// value with the worker; its methods become the activities.
type Activities struct {
	pipeline *orchestrator.Pipeline
	planner  *services.Planner
	logger   *logging.Logger
}

// NewActivities returns activities over the registry's pipeline. Finished
// plans are scored and stored through planner.
func NewActivities(reg services.Registry, planner *services.Planner, logger *logging.Logger) (*Activities, error) {
	if reg == nil || reg.Pipeline() == nil {
		return nil, fmt.Errorf("pipeline: %w", services.ErrNotConfigured)
	}
	if planner == nil {
		return nil, fmt.Errorf("planner: %w", services.ErrNotConfigured)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Activities{pipeline: reg.Pipeline(), planner: planner, logger: logger.Named("workflows")}, nil
}

// HaltInfo describes a HALT reached inside an activity.
type HaltInfo struct {
	Stage      plan.Stage     `json:"stage"`
	Violations []string       `json:"violations"`
	Report     plan.RunReport `json:"report"`
}

func haltInfo(err error) *HaltInfo {
	var halt *orchestrator.HaltError
	if !errors.As(err, &halt) {
		return nil
	}
	info := &HaltInfo{Stage: halt.Stage, Report: halt.Report}
	for _, v := range halt.Violations {
		info.Violations = append(info.Violations, v.String())
	}
	return info
}

// PrepareOutput is the result of the Prepare activity.
type PrepareOutput struct {
	State      *orchestrator.State `json:"state"`
	Redactions int                 `json:"redactions"`
	Halt       *HaltInfo           `json:"halt,omitempty"`
}

// Prepare scrubs the request and runs stages S0 through S4.
func (a *Activities) Prepare(ctx context.Context, in plan.PlanningInput) (out *PrepareOutput, err error) {
	defer observe(ctx, "prepare", time.Now(), &err)

	in, redactions := a.planner.ScrubInput(ctx, in)
	st, err := a.pipeline.Prepare(ctx, in)
	if info := haltInfo(err); info != nil {
		countRun(ctx, plan.DecisionHalt)
		return &PrepareOutput{State: st, Redactions: redactions, Halt: info}, nil
	}
	if err != nil {
		return nil, activityError("prepare", err)
	}
	return &PrepareOutput{State: st, Redactions: redactions}, nil
}

// LaneInput is one lane of the task graph.
type LaneInput struct {
	RunID   string          `json:"run_id"`
	Lane    plan.Lane       `json:"lane"`
	Prompts plan.PromptPlan `json:"prompts"`
}

// RunLane executes one lane. Task failures are recorded in the result,
// so the activity itself only fails on cancellation.
func (a *Activities) RunLane(ctx context.Context, in LaneInput) (out plan.LaneResult, err error) {
	defer observe(ctx, "run_lane", time.Now(), &err)

	ctx = logging.WithRunID(ctx, in.RunID)
	out = a.pipeline.Executor().RunLane(ctx, in.Lane, in.Prompts)
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if !out.Complete {
		a.logger.Warn(ctx, "lane finished incomplete", zap.String("archetype", string(in.Lane.Archetype)))
	}
	return out, nil
}

// FinishInput carries the prepared state and the lane results.
type FinishInput struct {
	State   *orchestrator.State `json:"state"`
	Lanes   []plan.LaneResult   `json:"lanes"`
	Started time.Time           `json:"started"`
}

// FinishOutput is the result of the Finish activity.
type FinishOutput struct {
	PlanID          string        `json:"plan_id,omitempty"`
	Domain          plan.DomainID `json:"domain,omitempty"`
	Decision        plan.Decision `json:"decision"`
	ComplianceScore int           `json:"compliance_score"`
	IsValid         bool          `json:"is_valid"`
	Warnings        []string      `json:"warnings,omitempty"`
	Halt            *HaltInfo     `json:"halt,omitempty"`
}

// Finish records S5 from the lane results, runs S6, then scores and
// stores the plan.
func (a *Activities) Finish(ctx context.Context, in FinishInput) (out *FinishOutput, err error) {
	defer observe(ctx, "finish", time.Now(), &err)

	if in.State == nil {
		return nil, temporal.NewNonRetryableApplicationError("finish requires prepared state", "PipelineState", nil)
	}
	st := in.State

	if err := a.pipeline.Join(ctx, st, in.Lanes, in.Started); err != nil {
		return a.halted(ctx, "join", err)
	}
	res, err := a.pipeline.Finish(ctx, st)
	if err != nil {
		return a.halted(ctx, "assemble", err)
	}

	report, err := a.planner.Accept(ctx, res.Plan)
	if err != nil {
		return nil, activityError("store plan", err)
	}
	countRun(ctx, res.Plan.Metadata.GateDecision)

	out = &FinishOutput{
		PlanID:          res.Plan.Metadata.PlanID,
		Domain:          res.Plan.Metadata.Domain,
		Decision:        res.Plan.Metadata.GateDecision,
		ComplianceScore: report.Score,
		IsValid:         report.IsValid,
	}
	for _, w := range res.Report.Warnings {
		out.Warnings = append(out.Warnings, w.String())
	}
	return out, nil
}

func (a *Activities) halted(ctx context.Context, operation string, err error) (*FinishOutput, error) {
	info := haltInfo(err)
	if info == nil {
		return nil, activityError(operation, err)
	}
	countRun(ctx, plan.DecisionHalt)
	return &FinishOutput{Decision: plan.DecisionHalt, Halt: info}, nil
}

// activityError marks failures that a retry cannot fix.
func activityError(operation string, err error) error {
	if errors.Is(err, gate.ErrOutOfOrder) || errors.Is(err, gate.ErrHalted) || errors.Is(err, store.ErrExists) {
		return temporal.NewNonRetryableApplicationError(FormatErrorForResult(operation, err), "PipelineState", err)
	}
	return WrapActivityError(operation, err)
}

func observe(ctx context.Context, activity string, start time.Time, err *error) {
	attrs := metric.WithAttributes(attribute.String("activity", activity))
	activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if *err != nil {
		activityErrorCounter.Add(ctx, 1, attrs)
	}
}

func countRun(ctx context.Context, d plan.Decision) {
	planRunCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(d))))
}
