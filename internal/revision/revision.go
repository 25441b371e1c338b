// Package revision produces a new plan from an existing one, a scope and a
// reviewer remark. Sections outside the scope are carried over unchanged
// and the original plan value is never modified.
package revision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/planner/internal/compliance"
	"github.com/fyrsmithlabs/planner/internal/llm"
	"github.com/fyrsmithlabs/planner/internal/plan"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/planner/internal/revision")

var (
	// ErrEmptyRemark is returned when no reviewer remark is supplied.
	ErrEmptyRemark = errors.New("revision remark is required")

	// ErrInvalidRevision is returned when the model's sections cannot
	// replace the originals.
	ErrInvalidRevision = errors.New("invalid revision")
)

// CodeComplianceCheck marks a failed compliance check on a revised plan.
const CodeComplianceCheck = "compliance_check_failed"

const instruction = "You revise one section of a clinical review plan. Apply the reviewer remark to the " +
	"sections provided and return a JSON object with the same keys. Keep existing ids, keep every " +
	"signal group id, and give every new signal and criterion provenance."

// Result is a revised plan and its compliance report.
type Result struct {
	Plan       plan.PlannerPlan  `json:"plan"`
	Compliance compliance.Report `json:"compliance"`
}

// Reviser runs revisions against a model client.
type Reviser struct {
	client    llm.Client
	validator *compliance.Validator
	now       func() time.Time
	newID     func() string
}

// Option configures a Reviser.
type Option func(*Reviser)

// WithClock overrides the revision timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(r *Reviser) {
		r.now = fn
	}
}

// WithIDGenerator overrides plan id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Reviser) {
		r.newID = fn
	}
}

// New creates a reviser.
func New(client llm.Client, validator *compliance.Validator, opts ...Option) *Reviser {
	r := &Reviser{
		client:    client,
		validator: validator,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Revise returns a new plan whose in-scope sections come from the model
// and whose lineage points at original.
func (r *Reviser) Revise(ctx context.Context, original plan.PlannerPlan, scope plan.RevisionScope, remark string) (Result, error) {
	ctx, span := tracer.Start(ctx, "revision.Revise")
	defer span.End()
	span.SetAttributes(
		attribute.String("plan.id", original.Metadata.PlanID),
		attribute.String("revision.scope", string(scope)),
	)

	remark = strings.TrimSpace(remark)
	if remark == "" {
		return Result{}, ErrEmptyRemark
	}
	scope, err := plan.ParseRevisionScope(string(scope))
	if err != nil {
		return Result{}, err
	}

	src := original.Clone()
	payload := plan.RevisionPayload{
		Kind:     plan.PromptRevision,
		PlanID:   src.Metadata.PlanID,
		Scope:    scope,
		Remark:   remark,
		Concern:  src.Metadata.Concern,
		Domain:   src.Metadata.Domain,
		Sections: sectionsFor(src, scope),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode revision payload: %w", err)
	}

	resp, err := r.client.Complete(ctx, llm.Request{
		Kind:    plan.PromptRevision,
		TaskID:  "revision:" + string(scope),
		System:  instruction,
		Payload: raw,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		return Result{}, fmt.Errorf("revise %s: %w", scope, err)
	}
	var revised plan.RevisionSections
	if err := json.Unmarshal(resp, &revised); err != nil {
		return Result{}, fmt.Errorf("revise %s: %w", scope, llm.Errorf(llm.KindMalformed, "decode sections: %v", err))
	}

	out, err := apply(src, scope, revised)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "revision rejected")
		return Result{}, err
	}
	out.Metadata.PlanID = r.newID()
	out.Metadata.ParentPlanID = original.Metadata.PlanID
	out.Metadata.CreatedAt = r.now()
	out.Metadata.Revision = &plan.RevisionInfo{Scope: string(scope), Remark: remark}
	out.Metadata.GateDecision = plan.DecisionPass
	out.Validation = plan.NewValidationResult()
	out.Audit = []plan.StageRecord{}

	res := Result{Plan: out}
	if r.validator != nil {
		report, err := r.validator.ValidatePlan(out)
		if err != nil {
			return Result{}, err
		}
		res.Compliance = report
		res.Plan.Validation = complianceFindings(report)
		if res.Plan.Validation.HasSemanticErrors() {
			res.Plan.Metadata.GateDecision = plan.DecisionWarn
		}
		span.SetAttributes(attribute.Int("compliance.score", report.Score))
	}
	return res, nil
}

// complianceFindings records each failed compliance check as a Tier-2 issue.
// Stage findings of the parent plan are not carried over.
func complianceFindings(report compliance.Report) plan.ValidationResult {
	f := plan.NewFindings("")
	for _, c := range report.Checks {
		if c.Passed {
			continue
		}
		f.Semantic(CodeComplianceCheck, "compliance check %s failed: %s", c.Name, strings.Join(c.Errors, "; "))
	}
	return f.Result()
}

func sectionsFor(p plan.PlannerPlan, scope plan.RevisionScope) plan.RevisionSections {
	var s plan.RevisionSections
	if scope.Includes(plan.ScopeSignals) {
		s.SignalGroups = p.SignalGroups
	}
	if scope.Includes(plan.ScopeCriteria) {
		s.Criteria = p.Criteria
	}
	if scope.Includes(plan.ScopeQuestions) {
		s.Questions = p.Questions
	}
	if scope.Includes(plan.ScopePhases) {
		s.Phases = p.Phases
	}
	if scope.Includes(plan.ScopePrompts) {
		s.Prompts = p.Prompts
	}
	return s
}

// apply swaps in the revised sections within scope. p is already a copy.
func apply(p plan.PlannerPlan, scope plan.RevisionScope, s plan.RevisionSections) (plan.PlannerPlan, error) {
	if scope.Includes(plan.ScopeSignals) {
		if err := sameGroups(p.SignalGroups, s.SignalGroups); err != nil {
			return plan.PlannerPlan{}, err
		}
		p.SignalGroups = s.SignalGroups
	}
	if scope.Includes(plan.ScopeCriteria) {
		if err := notDropped("criteria", len(p.Criteria), len(s.Criteria)); err != nil {
			return plan.PlannerPlan{}, err
		}
		p.Criteria = nonNil(s.Criteria)
	}
	if scope.Includes(plan.ScopeQuestions) {
		if err := notDropped("questions", len(p.Questions), len(s.Questions)); err != nil {
			return plan.PlannerPlan{}, err
		}
		p.Questions = nonNil(s.Questions)
	}
	if scope.Includes(plan.ScopePhases) {
		if err := notDropped("phases", len(p.Phases), len(s.Phases)); err != nil {
			return plan.PlannerPlan{}, err
		}
		p.Phases = nonNil(s.Phases)
	}
	if scope.Includes(plan.ScopePrompts) {
		if len(s.Prompts) != len(p.Prompts) {
			return plan.PlannerPlan{}, fmt.Errorf("%w: %d prompts returned for %d tasks", ErrInvalidRevision, len(s.Prompts), len(p.Prompts))
		}
		for i := range s.Prompts {
			if s.Prompts[i].TaskID != p.Prompts[i].TaskID {
				return plan.PlannerPlan{}, fmt.Errorf("%w: prompt %d is for %s, want %s", ErrInvalidRevision, i, s.Prompts[i].TaskID, p.Prompts[i].TaskID)
			}
		}
		p.Prompts = s.Prompts
	}
	return p, nil
}

func sameGroups(before, after []plan.SignalGroup) error {
	if len(before) != len(after) {
		return fmt.Errorf("%w: %d signal groups returned, want %d", ErrInvalidRevision, len(after), len(before))
	}
	for i := range before {
		if before[i].ID != after[i].ID {
			return fmt.Errorf("%w: signal group %d is %s, want %s", ErrInvalidRevision, i, after[i].ID, before[i].ID)
		}
		if after[i].Signals == nil {
			after[i].Signals = []plan.Signal{}
		}
	}
	return nil
}

func notDropped(section string, before, after int) error {
	if before > 0 && after == 0 {
		return fmt.Errorf("%w: %s section was dropped", ErrInvalidRevision, section)
	}
	return nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
