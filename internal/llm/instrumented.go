package llm

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/planner/internal/metrics"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/planner/internal/llm")

// Instrumented records a span and call latency for every request.
type Instrumented struct {
	next    Client
	metrics *metrics.Metrics
}

// NewInstrumented wraps next. m may be nil.
func NewInstrumented(next Client, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: m}
}

// Complete implements Client.
func (c *Instrumented) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "llm.Complete",
		trace.WithAttributes(
			attribute.String("llm.kind", string(req.Kind)),
			attribute.String("llm.task_id", req.TaskID),
		),
	)
	defer span.End()

	start := time.Now()
	out, err := c.next.Complete(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("llm.response_bytes", len(out)))
	}
	c.metrics.ObserveLLMCall(string(req.Kind), outcome, time.Since(start))
	return out, err
}
