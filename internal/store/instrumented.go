package store

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

const instrumentationName = "github.com/fyrsmithlabs/planner/internal/store"

// Instrumented wraps a Store with spans, save/get counters and logging.
type Instrumented struct {
	next   Store
	logger *zap.Logger

	tracer      trace.Tracer
	saveCounter metric.Int64Counter
	getCounter  metric.Int64Counter
}

// NewInstrumented wraps next. backend labels the metrics.
func NewInstrumented(next Store, backend string, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Instrumented{
		next:   next,
		logger: logger.With(zap.String("store.backend", backend)),
		tracer: otel.Tracer(instrumentationName),
	}
	meter := otel.Meter(instrumentationName)

	var err error
	s.saveCounter, err = meter.Int64Counter(
		"planner.store.saves_total",
		metric.WithDescription("Total number of plan saves"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}
	s.getCounter, err = meter.Int64Counter(
		"planner.store.gets_total",
		metric.WithDescription("Total number of plan reads"),
		metric.WithUnit("{get}"),
	)
	if err != nil {
		s.logger.Warn("failed to create get counter", zap.Error(err))
	}
	return s
}

func (s *Instrumented) finish(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcome(err error) attribute.KeyValue {
	switch {
	case err == nil:
		return attribute.String("outcome", "ok")
	case errors.Is(err, ErrNotFound):
		return attribute.String("outcome", "not_found")
	default:
		return attribute.String("outcome", "error")
	}
}

// Save implements Store.
func (s *Instrumented) Save(ctx context.Context, p plan.PlannerPlan) (err error) {
	ctx, span := s.tracer.Start(ctx, "store.save", trace.WithAttributes(
		attribute.String("plan.id", p.Metadata.PlanID),
		attribute.String("plan.parent_id", p.Metadata.ParentPlanID),
	))
	defer func() { s.finish(span, err) }()

	err = s.next.Save(ctx, p)
	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1, metric.WithAttributes(outcome(err)))
	}
	if err != nil {
		s.logger.Warn("plan save failed", zap.String("plan.id", p.Metadata.PlanID), zap.Error(err))
		return err
	}
	s.logger.Info("saved plan",
		zap.String("plan.id", p.Metadata.PlanID),
		zap.String("parent_plan_id", p.Metadata.ParentPlanID),
		zap.String("gate_decision", string(p.Metadata.GateDecision)),
	)
	return nil
}

// Get implements Store.
func (s *Instrumented) Get(ctx context.Context, id string) (p plan.PlannerPlan, err error) {
	ctx, span := s.tracer.Start(ctx, "store.get", trace.WithAttributes(attribute.String("plan.id", id)))
	defer func() { s.finish(span, err) }()

	p, err = s.next.Get(ctx, id)
	if s.getCounter != nil {
		s.getCounter.Add(ctx, 1, metric.WithAttributes(outcome(err)))
	}
	return p, err
}

// GetArtifact implements Store.
func (s *Instrumented) GetArtifact(ctx context.Context, id string) (data []byte, err error) {
	ctx, span := s.tracer.Start(ctx, "store.get_artifact", trace.WithAttributes(attribute.String("plan.id", id)))
	defer func() { s.finish(span, err) }()

	data, err = s.next.GetArtifact(ctx, id)
	if s.getCounter != nil {
		s.getCounter.Add(ctx, 1, metric.WithAttributes(outcome(err)))
	}
	return data, err
}

// Audit implements Store.
func (s *Instrumented) Audit(ctx context.Context, id string) (recs []plan.StageRecord, err error) {
	ctx, span := s.tracer.Start(ctx, "store.audit", trace.WithAttributes(attribute.String("plan.id", id)))
	defer func() { s.finish(span, err) }()
	return s.next.Audit(ctx, id)
}

// Lineage implements Store.
func (s *Instrumented) Lineage(ctx context.Context, id string) (chain []Summary, err error) {
	ctx, span := s.tracer.Start(ctx, "store.lineage", trace.WithAttributes(attribute.String("plan.id", id)))
	defer func() { s.finish(span, err) }()

	chain, err = s.next.Lineage(ctx, id)
	span.SetAttributes(attribute.Int("lineage.depth", len(chain)))
	return chain, err
}

// List implements Store.
func (s *Instrumented) List(ctx context.Context, opts ListOptions) (out []Summary, err error) {
	ctx, span := s.tracer.Start(ctx, "store.list", trace.WithAttributes(attribute.String("planning.id", opts.PlanningID)))
	defer func() { s.finish(span, err) }()
	return s.next.List(ctx, opts)
}

// Close implements Store.
func (s *Instrumented) Close() error {
	return s.next.Close()
}
