package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Field keys shared by every planner component.
const (
	KeyRunID      = "run.id"
	KeyPlanningID = "planning.id"
	KeyPlanID     = "plan.id"
	KeyStage      = "pipeline.stage"
	KeyRequestID  = "request.id"
)

type correlationKey int

const (
	runKey correlationKey = iota
	planningKey
	planKey
	stageKey
	requestKey
)

var correlation = []struct {
	key   correlationKey
	field string
}{
	{runKey, KeyRunID},
	{planningKey, KeyPlanningID},
	{planKey, KeyPlanID},
	{stageKey, KeyStage},
	{requestKey, KeyRequestID},
}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	for _, c := range correlation {
		if v, ok := ctx.Value(c.key).(string); ok && v != "" {
			fields = append(fields, zap.String(c.field, v))
		}
	}
	return fields
}

func withValue(ctx context.Context, key correlationKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func value(ctx context.Context, key correlationKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// WithRunID tags ctx with the pipeline run id. Empty ids are ignored.
func WithRunID(ctx context.Context, id string) context.Context {
	return withValue(ctx, runKey, id)
}

// RunIDFromContext returns the run id, or "".
func RunIDFromContext(ctx context.Context) string { return value(ctx, runKey) }

// WithPlanningID tags ctx with the caller's planning id.
func WithPlanningID(ctx context.Context, id string) context.Context {
	return withValue(ctx, planningKey, id)
}

// PlanningIDFromContext returns the planning id, or "".
func PlanningIDFromContext(ctx context.Context) string { return value(ctx, planningKey) }

// WithPlanID tags ctx with a plan id.
func WithPlanID(ctx context.Context, id string) context.Context {
	return withValue(ctx, planKey, id)
}

// PlanIDFromContext returns the plan id, or "".
func PlanIDFromContext(ctx context.Context) string { return value(ctx, planKey) }

// WithStage tags ctx with the pipeline stage being run.
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, stageKey, stage)
}

// StageFromContext returns the pipeline stage, or "".
func StageFromContext(ctx context.Context) string { return value(ctx, stageKey) }

// WithRequestID tags ctx with an inbound request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestKey, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string { return value(ctx, requestKey) }

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return Nop()
}
