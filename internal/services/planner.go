package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/planner/internal/compliance"
	"github.com/fyrsmithlabs/planner/internal/logging"
	"github.com/fyrsmithlabs/planner/internal/metrics"
	"github.com/fyrsmithlabs/planner/internal/orchestrator"
	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/store"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/planner/internal/services")

// ErrNotConfigured is returned when an operation needs a component the
// registry does not hold.
var ErrNotConfigured = errors.New("component not configured")

// Generated is the outcome of Generate.
type Generated struct {
	Plan       plan.PlannerPlan  `json:"plan"`
	Report     plan.RunReport    `json:"report"`
	Compliance compliance.Report `json:"compliance"`
	Redactions int               `json:"redactions,omitempty"`
}

// Revised is the outcome of Revise.
type Revised struct {
	Plan       plan.PlannerPlan  `json:"plan"`
	Compliance compliance.Report `json:"compliance"`
	Redactions int               `json:"redactions,omitempty"`
}

// Service is what front ends depend on.
type Service interface {
	Generate(ctx context.Context, in plan.PlanningInput) (Generated, error)
	Validate(ctx context.Context, artifact []byte) (compliance.Report, error)
	ValidateStored(ctx context.Context, id string) (compliance.Report, error)
	Revise(ctx context.Context, id string, scope plan.RevisionScope, remark string) (Revised, error)
	Get(ctx context.Context, id string) (plan.PlannerPlan, error)
	GetArtifact(ctx context.Context, id string) ([]byte, error)
	Audit(ctx context.Context, id string) ([]plan.StageRecord, error)
	Lineage(ctx context.Context, id string) ([]store.Summary, error)
	List(ctx context.Context, opts store.ListOptions) ([]store.Summary, error)
}

// Planner implements Service over a Registry.
type Planner struct {
	reg     Registry
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) PlannerOption {
	return func(p *Planner) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) PlannerOption {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPlanner returns a Planner. The registry must hold a pipeline and a
// store; the validator and reviser are optional.
func NewPlanner(reg Registry, opts ...PlannerOption) (*Planner, error) {
	if reg == nil || reg.Pipeline() == nil {
		return nil, fmt.Errorf("pipeline: %w", ErrNotConfigured)
	}
	if reg.Store() == nil {
		return nil, fmt.Errorf("store: %w", ErrNotConfigured)
	}
	p := &Planner{reg: reg, logger: logging.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("planner")
	return p, nil
}

// Generate runs the pipeline, scores the artifact and stores it. On HALT
// the run report is returned with the *orchestrator.HaltError and nothing
// is stored.
func (p *Planner) Generate(ctx context.Context, in plan.PlanningInput) (Generated, error) {
	ctx, span := tracer.Start(ctx, "planner.Generate")
	defer span.End()
	ctx = logging.WithPlanningID(ctx, in.PlanningID)

	in, redactions := p.ScrubInput(ctx, in)
	out := Generated{Redactions: redactions}

	res, err := p.reg.Pipeline().Run(ctx, in)
	if err != nil {
		var halt *orchestrator.HaltError
		if errors.As(err, &halt) {
			out.Report = halt.Report
			span.SetAttributes(attribute.String("halted_at", string(halt.Stage)))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		return out, err
	}
	out.Plan = res.Plan
	out.Report = res.Report

	out.Compliance, err = p.Accept(ctx, res.Plan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "accept failed")
		return out, err
	}
	if p.reg.Validator() != nil {
		span.SetAttributes(attribute.Int("compliance.score", out.Compliance.Score))
	}
	return out, nil
}

// Accept scores a finished plan and stores it. The pipeline may have run
// elsewhere, as it does under the durable workflow.
func (p *Planner) Accept(ctx context.Context, pl plan.PlannerPlan) (compliance.Report, error) {
	ctx = logging.WithPlanID(ctx, pl.Metadata.PlanID)

	var report compliance.Report
	if v := p.reg.Validator(); v != nil {
		r, err := v.ValidatePlan(pl)
		if err != nil {
			return report, fmt.Errorf("score plan: %w", err)
		}
		report = r
		p.metrics.ObserveCompliance(report.Score)
	}

	if err := p.reg.Store().Save(ctx, pl); err != nil {
		return report, fmt.Errorf("save plan: %w", err)
	}

	p.logger.Info(ctx, "plan generated",
		zap.String("domain", string(pl.Metadata.Domain)),
		zap.String("decision", string(pl.Metadata.GateDecision)),
		zap.Int("compliance_score", report.Score),
	)
	return report, nil
}

// Validate scores artifact bytes. It never fails on malformed input; the
// report carries the errors.
func (p *Planner) Validate(_ context.Context, artifact []byte) (compliance.Report, error) {
	v := p.reg.Validator()
	if v == nil {
		return compliance.Report{}, fmt.Errorf("validator: %w", ErrNotConfigured)
	}
	report := v.Validate(artifact)
	p.metrics.ObserveCompliance(report.Score)
	return report, nil
}

// ValidateStored scores the persisted artifact of id.
func (p *Planner) ValidateStored(ctx context.Context, id string) (compliance.Report, error) {
	artifact, err := p.reg.Store().GetArtifact(ctx, id)
	if err != nil {
		return compliance.Report{}, err
	}
	return p.Validate(ctx, artifact)
}

// Revise rewrites one scope of the stored plan id and stores the result
// as a child of id.
func (p *Planner) Revise(ctx context.Context, id string, scope plan.RevisionScope, remark string) (Revised, error) {
	ctx, span := tracer.Start(ctx, "planner.Revise")
	defer span.End()
	ctx = logging.WithPlanID(ctx, id)

	r := p.reg.Reviser()
	if r == nil {
		return Revised{}, fmt.Errorf("reviser: %w", ErrNotConfigured)
	}
	original, err := p.reg.Store().Get(ctx, id)
	if err != nil {
		return Revised{}, err
	}

	cleaned := p.reg.Scrubber().Scrub(remark)
	if cleaned.HasFindings() {
		p.logger.Warn(ctx, "redacted identifiers from revision remark",
			zap.Strings("rules", cleaned.RuleIDs()))
	}

	res, err := r.Revise(ctx, original, scope, cleaned.Scrubbed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "revision failed")
		return Revised{}, err
	}
	p.metrics.ObserveCompliance(res.Compliance.Score)
	if err := p.reg.Store().Save(ctx, res.Plan); err != nil {
		return Revised{}, fmt.Errorf("save revision: %w", err)
	}

	p.logger.Info(ctx, "plan revised",
		zap.String("revision_id", res.Plan.Metadata.PlanID),
		zap.String("scope", string(scope)),
		zap.Int("compliance_score", res.Compliance.Score),
	)
	return Revised{Plan: res.Plan, Compliance: res.Compliance, Redactions: cleaned.TotalFindings}, nil
}

// Get returns the stored plan id.
func (p *Planner) Get(ctx context.Context, id string) (plan.PlannerPlan, error) {
	return p.reg.Store().Get(ctx, id)
}

// GetArtifact returns the stored artifact bytes of id.
func (p *Planner) GetArtifact(ctx context.Context, id string) ([]byte, error) {
	return p.reg.Store().GetArtifact(ctx, id)
}

// Audit returns the stage records stored with id.
func (p *Planner) Audit(ctx context.Context, id string) ([]plan.StageRecord, error) {
	return p.reg.Store().Audit(ctx, id)
}

// Lineage returns the revision chain ending at id.
func (p *Planner) Lineage(ctx context.Context, id string) ([]store.Summary, error) {
	return p.reg.Store().Lineage(ctx, id)
}

// List returns stored plans, newest first.
func (p *Planner) List(ctx context.Context, opts store.ListOptions) ([]store.Summary, error) {
	return p.reg.Store().List(ctx, opts)
}

// ScrubInput redacts identifiers from the free-text fields that reach the
// model and returns the number of redactions. Concern and differentiators
// drive rule lookups and are left alone.
func (p *Planner) ScrubInput(ctx context.Context, in plan.PlanningInput) (plan.PlanningInput, int) {
	s := p.reg.Scrubber()
	if !s.IsEnabled() {
		return in, 0
	}
	total := 0
	seen := map[string]bool{}
	clean := func(v string) string {
		res := s.Scrub(v)
		total += res.TotalFindings
		for _, id := range res.RuleIDs() {
			seen[id] = true
		}
		return res.Scrubbed
	}

	in.Intent = clean(in.Intent)
	in.TargetPopulation = clean(in.TargetPopulation)
	in.ClinicalContext.Objective = clean(in.ClinicalContext.Objective)
	if len(in.SpecificRequirements) > 0 {
		reqs := make([]string, len(in.SpecificRequirements))
		for i, r := range in.SpecificRequirements {
			reqs[i] = clean(r)
		}
		in.SpecificRequirements = reqs
	}

	if total > 0 {
		rules := make([]string, 0, len(seen))
		for id := range seen {
			rules = append(rules, id)
		}
		sort.Strings(rules)
		p.logger.Warn(ctx, "redacted identifiers from planning input",
			zap.Int("findings", total), zap.Strings("rules", rules))
	}
	return in, total
}

var _ Service = (*Planner)(nil)
