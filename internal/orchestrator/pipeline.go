package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/planner/internal/assembler"
	"github.com/fyrsmithlabs/planner/internal/audit"
	"github.com/fyrsmithlabs/planner/internal/executor"
	"github.com/fyrsmithlabs/planner/internal/gate"
	"github.com/fyrsmithlabs/planner/internal/intake"
	"github.com/fyrsmithlabs/planner/internal/llm"
	"github.com/fyrsmithlabs/planner/internal/logging"
	"github.com/fyrsmithlabs/planner/internal/metrics"
	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/prompt"
	"github.com/fyrsmithlabs/planner/internal/registry"
	"github.com/fyrsmithlabs/planner/internal/research"
	"github.com/fyrsmithlabs/planner/internal/resolver"
	"github.com/fyrsmithlabs/planner/internal/skeleton"
	"github.com/fyrsmithlabs/planner/internal/taskgraph"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/planner/internal/orchestrator")

// Config tunes a Pipeline.
type Config struct {
	Policy           gate.Policy
	TopRankThreshold int
	Executor         executor.Config
}

// Pipeline wires the stage components together.
type Pipeline struct {
	reg      *registry.Registry
	policy   gate.Policy
	research research.Provider

	normalizer *intake.Normalizer
	resolver   *resolver.Resolver
	skeletons  *skeleton.Builder
	graphs     *taskgraph.Builder
	prompts    *prompt.Builder
	executor   *executor.Executor
	assembler  *assembler.Assembler

	sink     audit.Sink
	metrics  *metrics.Metrics
	logger   *logging.Logger
	progress ProgressCallback
	now      func() time.Time
	newID    func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithResearch attaches a research provider to domain resolution.
func WithResearch(p research.Provider) Option {
	return func(pl *Pipeline) { pl.research = p }
}

// WithAuditSink sets where stage records and run reports are sent.
func WithAuditSink(s audit.Sink) Option {
	return func(pl *Pipeline) {
		if s != nil {
			pl.sink = s
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(pl *Pipeline) {
		if l != nil {
			pl.logger = l
		}
	}
}

// WithProgress sets the progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(pl *Pipeline) { pl.progress = cb }
}

// WithClock overrides the time source for records and plan metadata.
func WithClock(fn func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = fn }
}

// WithIDGenerator overrides how run, planning and plan ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(pl *Pipeline) { pl.newID = fn }
}

// New builds a pipeline over reg that sends task prompts to client.
func New(reg *registry.Registry, client llm.Client, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		reg:    reg,
		policy: cfg.Policy,
		sink:   audit.Nop{},
		logger: logging.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("orchestrator")

	var resolverOpts []resolver.Option
	if p.research != nil {
		resolverOpts = append(resolverOpts, resolver.WithResearch(p.research))
	}
	p.normalizer = intake.New(reg, intake.WithIDGenerator(p.newID))
	p.resolver = resolver.New(reg, resolverOpts...)
	p.skeletons = skeleton.New(reg, cfg.TopRankThreshold)
	p.graphs = taskgraph.New(reg)
	p.prompts = prompt.New(reg)
	p.executor = executor.New(client, cfg.Executor)
	p.executor.SetMetrics(p.metrics)
	p.executor.SetLogger(p.logger.Underlying().Named("executor"))
	p.assembler = assembler.New(reg, assembler.WithClock(p.now), assembler.WithIDGenerator(p.newID))
	return p
}

// Executor returns the S5 executor so durable workflows can run lanes one
// at a time.
func (p *Pipeline) Executor() *executor.Executor {
	return p.executor
}

// Run executes S0 through S6.
func (p *Pipeline) Run(ctx context.Context, in plan.PlanningInput) (Result, error) {
	st, err := p.Prepare(ctx, in)
	if err != nil {
		return Result{State: st}, err
	}
	if err := p.Execute(ctx, st); err != nil {
		return Result{State: st}, err
	}
	res, err := p.Finish(ctx, st)
	res.State = st
	return res, err
}

// Prepare runs the deterministic stages S0 through S4.
func (p *Pipeline) Prepare(ctx context.Context, in plan.PlanningInput) (*State, error) {
	st := &State{RunID: p.newID()}
	ctx = logging.WithRunID(ctx, st.RunID)
	ctx, span := tracer.Start(ctx, "pipeline.Prepare", trace.WithAttributes(attribute.String("run.id", st.RunID)))
	defer span.End()

	eng := gate.NewEngine(p.policy)

	started := p.now()
	req, res := p.normalizer.Normalize(in)
	st.Request = req
	ctx = logging.WithPlanningID(ctx, req.PlanningID)
	if err := p.record(ctx, eng, st, plan.StageIntake, started, res); err != nil {
		return st, spanError(span, err)
	}

	started = p.now()
	dc, res := p.resolver.Resolve(logging.WithStage(ctx, string(plan.StageDomain)), st.Request)
	st.Context = dc
	if err := p.record(ctx, eng, st, plan.StageDomain, started, res); err != nil {
		return st, spanError(span, err)
	}

	started = p.now()
	s, res := p.skeletons.Build(st.Request, st.Context)
	st.Skeleton = s
	if err := p.record(ctx, eng, st, plan.StageSkeleton, started, res); err != nil {
		return st, spanError(span, err)
	}

	started = p.now()
	g, res := p.graphs.Build(st.Context, st.Skeleton)
	st.Graph = g
	if err := p.record(ctx, eng, st, plan.StageTaskGraph, started, res); err != nil {
		return st, spanError(span, err)
	}

	started = p.now()
	pp, res := p.prompts.Build(st.Request, st.Context, st.Skeleton, st.Graph)
	st.Prompts = pp
	if err := p.record(ctx, eng, st, plan.StagePrompts, started, res); err != nil {
		return st, spanError(span, err)
	}
	return st, nil
}

// Execute runs S5: every lane concurrently, then the synthesis merge.
func (p *Pipeline) Execute(ctx context.Context, st *State) error {
	eng, err := p.resume(st, plan.StageExecute)
	if err != nil {
		return err
	}
	ctx = p.runContext(ctx, st)
	ctx, span := tracer.Start(ctx, "pipeline.Execute", trace.WithAttributes(attribute.String("run.id", st.RunID)))
	defer span.End()

	started := p.now()
	exec, res := p.executor.Execute(logging.WithStage(ctx, string(plan.StageExecute)), st.Skeleton, st.Graph, st.Prompts)
	st.Execution = exec
	return spanError(span, p.record(ctx, eng, st, plan.StageExecute, started, res))
}

// Join records S5 from lanes that were run elsewhere, one RunLane call per
// lane, starting at started.
func (p *Pipeline) Join(ctx context.Context, st *State, lanes []plan.LaneResult, started time.Time) error {
	eng, err := p.resume(st, plan.StageExecute)
	if err != nil {
		return err
	}
	ctx = p.runContext(ctx, st)
	exec, res := executor.Synthesize(st.Skeleton, lanes)
	st.Execution = exec
	return p.record(ctx, eng, st, plan.StageExecute, started, res)
}

// Finish runs S6 and returns the gated plan. The plan carries the overall
// decision and the full stage audit.
func (p *Pipeline) Finish(ctx context.Context, st *State) (Result, error) {
	eng, err := p.resume(st, plan.StageAssemble)
	if err != nil {
		return Result{}, err
	}
	ctx = p.runContext(ctx, st)
	ctx, span := tracer.Start(ctx, "pipeline.Finish", trace.WithAttributes(attribute.String("run.id", st.RunID)))
	defer span.End()

	started := p.now()
	pl, res := p.assembler.Assemble(assembler.Input{
		Request:   st.Request,
		Context:   st.Context,
		Skeleton:  st.Skeleton,
		Prompts:   st.Prompts,
		Execution: st.Execution,
	})
	ctx = logging.WithPlanID(ctx, pl.Metadata.PlanID)
	if err := p.record(ctx, eng, st, plan.StageAssemble, started, res); err != nil {
		return Result{}, spanError(span, err)
	}

	pl.Metadata.GateDecision = eng.Overall()
	pl.Validation = eng.Validation()
	pl.Audit = eng.Records()

	report := p.report(st, eng, pl.Metadata.PlanID)
	p.emitRun(ctx, report)
	span.SetAttributes(
		attribute.String("plan.id", pl.Metadata.PlanID),
		attribute.String("gate.decision", string(report.Decision)),
	)
	return Result{Plan: pl, Report: report}, nil
}

// record gates one stage, fans the record out, and converts a HALT into a
// *HaltError after emitting the run report.
func (p *Pipeline) record(ctx context.Context, eng *gate.Engine, st *State, stage plan.Stage, started time.Time, res plan.ValidationResult) error {
	rec, err := eng.Record(stage, res, started, p.now().Sub(started))
	if err != nil {
		return fmt.Errorf("recording %s: %w", stage, err)
	}
	st.Records = eng.Records()

	ctx = logging.WithStage(ctx, string(stage))
	p.metrics.ObserveStage(string(stage), string(rec.Gate.Decision), time.Duration(rec.DurationMS)*time.Millisecond)

	fields := []zap.Field{zap.String("decision", string(rec.Gate.Decision)), zap.Int64("duration_ms", rec.DurationMS)}
	switch rec.Gate.Decision {
	case plan.DecisionHalt:
		p.logger.Error(ctx, "stage halted", append(fields, zap.String("reason", rec.Gate.Reason))...)
	case plan.DecisionWarn:
		p.logger.Warn(ctx, "stage warned", append(fields, zap.String("reason", rec.Gate.Reason))...)
	default:
		p.logger.Debug(ctx, "stage passed", fields...)
	}

	if err := p.sink.RecordStage(ctx, audit.StageEvent{RunID: st.RunID, PlanningID: st.Request.PlanningID, Record: rec}); err != nil {
		p.logger.Warn(ctx, "audit sink rejected stage record", zap.Error(err))
	}
	if p.progress != nil {
		p.progress(Progress{
			RunID:      st.RunID,
			Stage:      stage,
			Name:       rec.Name,
			Decision:   rec.Gate.Decision,
			Percentage: (stage.Index() + 1) * 100 / len(plan.AllStages()),
		})
	}

	if rec.Gate.Decision != plan.DecisionHalt {
		return nil
	}
	report := p.report(st, eng, "")
	p.emitRun(ctx, report)
	return &HaltError{Stage: stage, Violations: rec.Validation.Structural.Errors, Report: report}
}

func (p *Pipeline) report(st *State, eng *gate.Engine, planID string) plan.RunReport {
	return plan.RunReport{
		RunID:      st.RunID,
		PlanningID: st.Request.PlanningID,
		PlanID:     planID,
		Decision:   eng.Overall(),
		HaltedAt:   eng.HaltedAt(),
		Records:    eng.Records(),
		Warnings:   eng.Warnings(),
		FinishedAt: p.now(),
	}
}

func (p *Pipeline) emitRun(ctx context.Context, r plan.RunReport) {
	p.metrics.RecordRun(string(r.Decision))
	if err := p.sink.RecordRun(ctx, r); err != nil {
		p.logger.Warn(ctx, "audit sink rejected run report", zap.Error(err))
	}
	p.logger.Info(ctx, "run finished",
		zap.String("decision", string(r.Decision)),
		zap.String("halted_at", string(r.HaltedAt)),
		zap.Int("warnings", len(r.Warnings)),
	)
}

// resume rebuilds the gate engine from st and checks that want is next.
func (p *Pipeline) resume(st *State, want plan.Stage) (*gate.Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("nil run state")
	}
	eng, err := gate.Resume(p.policy, st.Records)
	if err != nil {
		return nil, fmt.Errorf("resuming run %s: %w", st.RunID, err)
	}
	if eng.Halted() {
		return nil, fmt.Errorf("run %s halted at %s: %w", st.RunID, eng.HaltedAt(), gate.ErrHalted)
	}
	if next, ok := eng.Next(); !ok || next != want {
		return nil, fmt.Errorf("run %s: cannot record %s, next stage is %q: %w", st.RunID, want, next, gate.ErrOutOfOrder)
	}
	return eng, nil
}

func (p *Pipeline) runContext(ctx context.Context, st *State) context.Context {
	return logging.WithPlanningID(logging.WithRunID(ctx, st.RunID), st.Request.PlanningID)
}

func spanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
